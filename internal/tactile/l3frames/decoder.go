package l3frames

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/tac3d.report/internal/monitoring"
	"github.com/banshee-data/tac3d.report/internal/timeutil"
)

// Metadata identifies one decoded frame. ReceiveTimestamp is seconds since the
// decoder was created; SendTimestamp is the sensor's own clock.
type Metadata struct {
	SensorID         string
	FrameIndex       uint32
	SendTimestamp    float64
	ReceiveTimestamp float64
}

// Frame is the read-only view handed to consumers: metadata plus the decoder's
// Store. Both are overwritten by the next decode.
type Frame struct {
	Metadata
	Store *Store
}

// Stats receives decoder counters.
type Stats interface {
	AddFrameNotReady()
	AddDecodeError()
	AddUnknownField()
}

type noopStats struct{}

func (noopStats) AddFrameNotReady() {}
func (noopStats) AddDecodeError()   {}
func (noopStats) AddUnknownField()  {}

// DefaultMaxMatrixCells bounds height*width of a decoded matrix: 1 MB of
// float64s, the default reassembled frame size.
const DefaultMaxMatrixCells = 125000

// DecoderConfig contains configuration options for the frame decoder
type DecoderConfig struct {
	Store *Store           // defaults to NewStore()
	Stats Stats            // optional
	Clock timeutil.Clock   // defaults to RealClock
	Order binary.ByteOrder // field byte order; defaults to the host order
	// MaxMatrixCells rejects matrix fields whose declared dimensions exceed
	// it. Defaults to DefaultMaxMatrixCells.
	MaxMatrixCells int
}

// Decoder turns reassembled header and data buffers into a Frame.
type Decoder struct {
	store *Store
	stats Stats
	order binary.ByteOrder
	clock *timeutil.Stopwatch
	frame Frame

	maxCells int
}

// NewDecoder creates a decoder.
func NewDecoder(cfg DecoderConfig) *Decoder {
	store := cfg.Store
	if store == nil {
		store = NewStore()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	order := cfg.Order
	if order == nil {
		order = binary.NativeEndian
	}
	maxCells := cfg.MaxMatrixCells
	if maxCells <= 0 {
		maxCells = DefaultMaxMatrixCells
	}
	d := &Decoder{
		store:    store,
		stats:    stats,
		order:    order,
		clock:    timeutil.NewStopwatch(clock),
		maxCells: maxCells,
	}
	d.frame.Store = store
	return d
}

// Store returns the decoder's field store.
func (d *Decoder) Store() *Store { return d.store }

// Decode parses the header, copies every known field out of data and applies
// the readiness gate. The returned Frame is owned by the decoder. A header that
// cannot be parsed is an error; a bad or unknown field is skipped and counted
// so the rest of the frame still decodes. ready is false when the sensor's
// InitializeProgress is not exactly 100.
func (d *Decoder) Decode(header, data []byte) (frame *Frame, ready bool, err error) {
	h, err := DecodeHeader(header)
	if err != nil {
		d.stats.AddDecodeError()
		return nil, false, err
	}

	d.frame.Metadata = Metadata{
		SensorID:         h.SensorID,
		FrameIndex:       h.FrameIndex,
		SendTimestamp:    h.SendTimestamp,
		ReceiveTimestamp: d.clock.Seconds(),
	}

	for _, f := range h.Fields {
		if err := d.decodeField(f, data); err != nil {
			d.stats.AddDecodeError()
			monitoring.Debugf("sensor %s frame %d: skipped field: %v", h.SensorID, h.FrameIndex, err)
		}
	}

	if !d.store.Ready() {
		d.stats.AddFrameNotReady()
		return &d.frame, false, nil
	}
	return &d.frame, true, nil
}

func (d *Decoder) decodeField(f FieldDescriptor, data []byte) error {
	if f.Type == FieldUnknown {
		d.stats.AddUnknownField()
		monitoring.Debugf("no such field type named %q (field %s)", f.Tag, f.Name)
		return nil
	}
	if f.Type == FieldImage {
		return nil
	}

	c, ok := d.store.cells[f.Name]
	if !ok {
		d.stats.AddUnknownField()
		monitoring.Debugf("ignoring unknown field %s", f)
		return nil
	}
	if c.typ != f.Type {
		return fmt.Errorf("%w: %s registered as %s", ErrFieldTypeMismatch, f, c.typ)
	}

	start, end, err := f.span(len(data))
	if err != nil {
		return err
	}
	b := data[start:end]

	switch f.Type {
	case FieldMatrix:
		if f.Rows <= 0 || f.Cols <= 0 {
			return fmt.Errorf("%w: %s has no valid dimensions", ErrFieldOutOfRange, f)
		}
		if f.Rows > d.maxCells/f.Cols {
			return fmt.Errorf("%w: %s exceeds %d cells", ErrFieldOutOfRange, f, d.maxCells)
		}
		if f.Length%8 != 0 || f.Length > f.Rows*f.Cols*8 {
			return fmt.Errorf("%w: %s length does not fit %dx%d float64", ErrFieldOutOfRange, f, f.Rows, f.Cols)
		}
		m := c.matrix(f.Rows, f.Cols)
		raw := m.RawMatrix().Data
		n := f.Length / 8
		for i := 0; i < n; i++ {
			raw[i] = math.Float64frombits(d.order.Uint64(b[i*8:]))
		}
		clear(raw[n:])
	case FieldInt32:
		if f.Length != 4 {
			return fmt.Errorf("%w: %s is not 4 bytes", ErrFieldOutOfRange, f)
		}
		c.i32 = int32(d.order.Uint32(b))
	case FieldFloat64:
		if f.Length != 8 {
			return fmt.Errorf("%w: %s is not 8 bytes", ErrFieldOutOfRange, f)
		}
		c.f64 = math.Float64frombits(d.order.Uint64(b))
	}
	return nil
}

// AppendFloat64s appends values to dst as float64 in the given byte order. The
// synthetic sensor and tests use it to build data buffers.
func AppendFloat64s(dst []byte, order binary.ByteOrder, values ...float64) []byte {
	var b [8]byte
	for _, v := range values {
		order.PutUint64(b[:], math.Float64bits(v))
		dst = append(dst, b[:]...)
	}
	return dst
}
