package l1datagrams

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// HeaderSize is the length of the sub-header that prefixes every datagram.
const HeaderSize = 8

// DefaultMaxDatagramSize is the largest datagram the sensor emits, sub-header
// included. Sender and receiver must agree on it because data chunk offsets
// are derived from it.
const DefaultMaxDatagramSize = 1400

var (
	// ErrShortDatagram is returned for datagrams that cannot hold a sub-header.
	ErrShortDatagram = errors.New("datagram shorter than sub-header")
	// ErrPayloadTooLarge is returned when a frame cannot be expressed in the
	// sub-header's 16-bit datagram counters or a chunk exceeds the datagram size.
	ErrPayloadTooLarge = errors.New("payload too large for datagram framing")
)

// Header is the per-datagram sub-header.
//
// The sensor copies these integers straight out of memory, so the byte order
// is the sender's native order rather than network order.
type Header struct {
	SerialNumber       uint32
	TotalDataDatagrams uint16 // data datagrams in the frame, header datagram excluded
	Index              uint16 // 0 for the header datagram, 1..TotalDataDatagrams for data
}

// IsFrameHeader reports whether the datagram carries the textual frame header.
func (h Header) IsFrameHeader() bool {
	return h.Index == 0
}

// ExpectedDatagrams is the number of datagrams, header included, that make up
// the frame.
func (h Header) ExpectedDatagrams() int {
	return int(h.TotalDataDatagrams) + 1
}

func (h Header) String() string {
	return fmt.Sprintf("serial=%d index=%d/%d", h.SerialNumber, h.Index, h.TotalDataDatagrams)
}

// ParseHeader splits a datagram into its sub-header and payload. The payload
// aliases b.
func ParseHeader(b []byte, order binary.ByteOrder) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrShortDatagram, len(b))
	}
	h := Header{
		SerialNumber:       order.Uint32(b[0:4]),
		TotalDataDatagrams: order.Uint16(b[4:6]),
		Index:              order.Uint16(b[6:8]),
	}
	return h, b[HeaderSize:], nil
}

// PutHeader writes h into the first HeaderSize bytes of dst.
func PutHeader(dst []byte, h Header, order binary.ByteOrder) {
	_ = dst[HeaderSize-1]
	order.PutUint32(dst[0:4], h.SerialNumber)
	order.PutUint16(dst[4:6], h.TotalDataDatagrams)
	order.PutUint16(dst[6:8], h.Index)
}

// ChunkSize is the payload carried by one full data datagram. Data datagram i
// (1-based) lands at offset (i-1)*ChunkSize in the reassembled buffer.
func ChunkSize(maxDatagramSize int) int {
	return maxDatagramSize - HeaderSize
}

// ParseByteOrder maps a configuration name to a byte order. The empty string
// and "native" select the host order.
func ParseByteOrder(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "native":
		return binary.NativeEndian, nil
	case "little", "little-endian", "le":
		return binary.LittleEndian, nil
	case "big", "big-endian", "be", "network":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (want native, little or big)", name)
	}
}
