package l3frames

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingHeaderKey is returned when a required top-level header key is absent.
	ErrMissingHeaderKey = errors.New("missing header key")
	// ErrFieldOutOfRange is returned when a field's bytes fall outside the data buffer
	// or its declared size does not match its type.
	ErrFieldOutOfRange = errors.New("field out of range")
	// ErrFieldTypeMismatch is returned when the header's type tag disagrees with
	// the type a field was registered with.
	ErrFieldTypeMismatch = errors.New("field type mismatch")
)

// Header is the decoded textual header of one frame.
type Header struct {
	SensorID      string
	FrameIndex    uint32
	SendTimestamp float64
	Fields        []FieldDescriptor
}

type yamlHeader struct {
	SN        *string     `yaml:"SN"`
	Index     *int64      `yaml:"index"`
	Timestamp *float64    `yaml:"timestamp"`
	Data      []yamlField `yaml:"data"`
}

type yamlField struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Offset int    `yaml:"offset"`
	Length int    `yaml:"length"`
	Height int    `yaml:"height,omitempty"`
	Width  int    `yaml:"width,omitempty"`
}

// DecodeHeader parses a header payload. Trailing NUL padding is ignored. SN,
// index and timestamp are required; data may be absent for a frame without
// fields. Field descriptors are returned in header order and are validated
// only when decoded.
func DecodeHeader(b []byte) (Header, error) {
	b = bytes.TrimRight(b, "\x00")

	var raw yamlHeader
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Header{}, fmt.Errorf("failed to parse frame header: %w", err)
	}
	switch {
	case raw.SN == nil:
		return Header{}, fmt.Errorf("%w: SN", ErrMissingHeaderKey)
	case raw.Index == nil:
		return Header{}, fmt.Errorf("%w: index", ErrMissingHeaderKey)
	case raw.Timestamp == nil:
		return Header{}, fmt.Errorf("%w: timestamp", ErrMissingHeaderKey)
	}
	if *raw.Index < 0 || *raw.Index > math.MaxUint32 {
		return Header{}, fmt.Errorf("frame index %d out of range", *raw.Index)
	}

	h := Header{
		SensorID:      *raw.SN,
		FrameIndex:    uint32(*raw.Index),
		SendTimestamp: *raw.Timestamp,
		Fields:        make([]FieldDescriptor, 0, len(raw.Data)),
	}
	for _, f := range raw.Data {
		h.Fields = append(h.Fields, FieldDescriptor{
			Name:   f.Name,
			Type:   ParseFieldType(f.Type),
			Tag:    f.Type,
			Offset: f.Offset,
			Length: f.Length,
			Rows:   f.Height,
			Cols:   f.Width,
		})
	}
	return h, nil
}

// EncodeHeader renders a header in the sensor's textual format. It is the
// inverse of DecodeHeader and is used by the synthetic sensor.
func EncodeHeader(h Header) ([]byte, error) {
	raw := yamlHeader{
		SN:        &h.SensorID,
		Timestamp: &h.SendTimestamp,
		Data:      make([]yamlField, 0, len(h.Fields)),
	}
	index := int64(h.FrameIndex)
	raw.Index = &index
	for _, f := range h.Fields {
		tag := f.Tag
		if tag == "" {
			tag = f.Type.String()
		}
		raw.Data = append(raw.Data, yamlField{
			Name:   f.Name,
			Type:   tag,
			Offset: f.Offset,
			Length: f.Length,
			Height: f.Rows,
			Width:  f.Cols,
		})
	}
	out, err := yaml.Marshal(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame header: %w", err)
	}
	return out, nil
}
