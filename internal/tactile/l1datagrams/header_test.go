package l1datagrams

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader_LittleEndianLayout(t *testing.T) {
	// serial 0x01020304, 2 data datagrams, index 1, payload "ab"
	raw := []byte{0x04, 0x03, 0x02, 0x01, 0x02, 0x00, 0x01, 0x00, 'a', 'b'}

	h, payload, err := ParseHeader(raw, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), h.SerialNumber)
	assert.Equal(t, uint16(2), h.TotalDataDatagrams)
	assert.Equal(t, uint16(1), h.Index)
	assert.False(t, h.IsFrameHeader())
	assert.Equal(t, 3, h.ExpectedDatagrams())
	assert.Equal(t, []byte("ab"), payload)
}

func TestParseHeader_BigEndianLayout(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04, 0x00, 0x05, 0x00, 0x00}

	h, payload, err := ParseHeader(raw, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), h.SerialNumber)
	assert.Equal(t, uint16(5), h.TotalDataDatagrams)
	assert.True(t, h.IsFrameHeader())
	assert.Empty(t, payload)
}

func TestParseHeader_Short(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		_, _, err := ParseHeader(make([]byte, n), binary.NativeEndian)
		assert.ErrorIs(t, err, ErrShortDatagram, "length %d", n)
	}
}

func TestPutHeader_RoundTrip(t *testing.T) {
	want := Header{SerialNumber: 7, TotalDataDatagrams: 2, Index: 2}
	buf := make([]byte, HeaderSize)
	PutHeader(buf, want, binary.NativeEndian)

	got, _, err := ParseHeader(buf, binary.NativeEndian)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "serial=7 index=2/2", got.String())
}

func TestChunkSize(t *testing.T) {
	assert.Equal(t, 1392, ChunkSize(DefaultMaxDatagramSize))
}

func TestParseByteOrder(t *testing.T) {
	tests := []struct {
		name string
		want binary.ByteOrder
	}{
		{"", binary.NativeEndian},
		{"native", binary.NativeEndian},
		{"Little", binary.LittleEndian},
		{"le", binary.LittleEndian},
		{"big", binary.BigEndian},
		{"network", binary.BigEndian},
	}
	for _, tt := range tests {
		got, err := ParseByteOrder(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := ParseByteOrder("middle")
	assert.Error(t, err)
}
