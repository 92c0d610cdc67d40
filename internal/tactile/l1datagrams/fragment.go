package l1datagrams

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Fragmenter splits a frame into datagrams the way the sensor does. It is used
// by the synthetic sensor and by tests; the receiver never fragments.
type Fragmenter struct {
	MaxDatagramSize int
	Order           binary.ByteOrder
}

// NewFragmenter returns a Fragmenter with the default datagram size and the
// host byte order.
func NewFragmenter() *Fragmenter {
	return &Fragmenter{MaxDatagramSize: DefaultMaxDatagramSize, Order: binary.NativeEndian}
}

// Fragment returns the header datagram followed by the data datagrams in
// index order. Every datagram is a freshly allocated slice.
func (f *Fragmenter) Fragment(serial uint32, header, data []byte) ([][]byte, error) {
	chunk := ChunkSize(f.MaxDatagramSize)
	if chunk <= 0 {
		return nil, fmt.Errorf("max datagram size %d leaves no room for payload", f.MaxDatagramSize)
	}
	if len(header) > chunk {
		return nil, fmt.Errorf("%w: header is %d bytes, limit %d", ErrPayloadTooLarge, len(header), chunk)
	}

	count := (len(data) + chunk - 1) / chunk
	if count > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d data datagrams", ErrPayloadTooLarge, count)
	}

	datagrams := make([][]byte, 0, count+1)
	datagrams = append(datagrams, f.datagram(Header{
		SerialNumber:       serial,
		TotalDataDatagrams: uint16(count),
		Index:              0,
	}, header))

	for i := 0; i < count; i++ {
		start := i * chunk
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		datagrams = append(datagrams, f.datagram(Header{
			SerialNumber:       serial,
			TotalDataDatagrams: uint16(count),
			Index:              uint16(i + 1),
		}, data[start:end]))
	}
	return datagrams, nil
}

func (f *Fragmenter) datagram(h Header, payload []byte) []byte {
	order := f.Order
	if order == nil {
		order = binary.NativeEndian
	}
	b := make([]byte, HeaderSize+len(payload))
	PutHeader(b, h, order)
	copy(b[HeaderSize:], payload)
	return b
}
