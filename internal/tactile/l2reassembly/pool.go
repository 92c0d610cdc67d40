package l2reassembly

import (
	"time"

	"github.com/banshee-data/tac3d.report/internal/tactile/l1datagrams"
)

// Default pool parameters, matching the sensor firmware.
const (
	DefaultCapacity            = 10
	DefaultMaxFramePayloadSize = 1000000
	DefaultReceiveTimeout      = time.Second
)

// Slot accumulates the datagrams of one in-flight frame.
type Slot struct {
	index int
	free  bool

	serialNumber   uint32
	expectedData   uint16 // data datagrams declared by the first datagram seen
	received       int
	seen           []uint64 // bitset of received datagram indexes
	lastTouched    time.Time
	header         []byte
	headerLen      int
	data           []byte
	dataLen        int
	dataHighWater  int // furthest byte written since the buffer was last cleared
	dataBufferSize int
}

// Index is the slot's position in the pool.
func (s *Slot) Index() int { return s.index }

// Free reports whether the slot is available for allocation.
func (s *Slot) Free() bool { return s.free }

// SerialNumber is the serial of the frame occupying the slot.
func (s *Slot) SerialNumber() uint32 { return s.serialNumber }

// ExpectedDataDatagrams is the declared number of data datagrams.
func (s *Slot) ExpectedDataDatagrams() uint16 { return s.expectedData }

// ReceivedDatagrams is the number of distinct datagrams accepted so far,
// header datagram included.
func (s *Slot) ReceivedDatagrams() int { return s.received }

// LastTouched is when the slot last accepted a datagram.
func (s *Slot) LastTouched() time.Time { return s.lastTouched }

// Header returns the textual frame header received so far.
func (s *Slot) Header() []byte { return s.header[:s.headerLen] }

// Data returns the reassembled data bytes received so far.
func (s *Slot) Data() []byte { return s.data[:s.dataLen] }

// Complete reports whether every datagram of the frame has arrived.
func (s *Slot) Complete() bool {
	return !s.free && s.received == int(s.expectedData)+1
}

func (s *Slot) reset(serial uint32, expectedData uint16) {
	if s.data == nil {
		s.data = make([]byte, s.dataBufferSize)
	}
	// Clear whatever the previous frame wrote so a short chunk can never expose
	// stale bytes from an unrelated frame.
	clear(s.data[:s.dataHighWater])
	s.dataHighWater = 0

	words := (int(expectedData) + 1 + 63) / 64
	if cap(s.seen) < words {
		s.seen = make([]uint64, words)
	} else {
		s.seen = s.seen[:words]
		clear(s.seen)
	}

	s.free = false
	s.serialNumber = serial
	s.expectedData = expectedData
	s.received = 0
	s.headerLen = 0
	s.dataLen = 0
}

// writeHeader stores the textual header payload. It reports false when the
// payload does not fit the header buffer.
func (s *Slot) writeHeader(payload []byte) bool {
	if len(payload) > len(s.header) {
		return false
	}
	s.headerLen = copy(s.header, payload)
	return true
}

// writeData places a chunk at offset. It reports false, writing nothing, when
// the chunk would run past the data buffer.
func (s *Slot) writeData(offset int, payload []byte) bool {
	end := offset + len(payload)
	if offset < 0 || end > len(s.data) {
		return false
	}
	copy(s.data[offset:end], payload)
	if end > s.dataHighWater {
		s.dataHighWater = end
	}
	s.dataLen += len(payload)
	return true
}

func (s *Slot) hasSeen(index uint16) bool {
	return s.seen[index/64]&(1<<(index%64)) != 0
}

func (s *Slot) markSeen(index uint16) {
	s.seen[index/64] |= 1 << (index % 64)
	s.received++
}

// Pool is a fixed-capacity set of reassembly slots. It bounds the number of
// frames that may be in flight at once across every sensor sharing it.
type Pool struct {
	slots           []*Slot
	timeout         time.Duration
	maxDatagramSize int
}

// PoolConfig contains configuration options for the reassembly pool
type PoolConfig struct {
	Capacity            int
	MaxDatagramSize     int
	MaxFramePayloadSize int
	ReceiveTimeout      time.Duration
}

// NewPool creates a pool with every slot free. Zero config values take the
// firmware defaults. Data buffers are allocated on first use of each slot.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxDatagramSize <= l1datagrams.HeaderSize {
		cfg.MaxDatagramSize = l1datagrams.DefaultMaxDatagramSize
	}
	if cfg.MaxFramePayloadSize <= 0 {
		cfg.MaxFramePayloadSize = DefaultMaxFramePayloadSize
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}

	p := &Pool{
		slots:           make([]*Slot, cfg.Capacity),
		timeout:         cfg.ReceiveTimeout,
		maxDatagramSize: cfg.MaxDatagramSize,
	}
	for i := range p.slots {
		p.slots[i] = &Slot{
			index:          i,
			free:           true,
			header:         make([]byte, l1datagrams.ChunkSize(cfg.MaxDatagramSize)),
			dataBufferSize: cfg.MaxFramePayloadSize,
		}
	}
	return p
}

// Capacity is the number of slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// ReceiveTimeout is the idle age after which an incomplete slot may be reclaimed.
func (p *Pool) ReceiveTimeout() time.Duration { return p.timeout }

// MaxDatagramSize is the datagram size the offsets are computed from.
func (p *Pool) MaxDatagramSize() int { return p.maxDatagramSize }

// DataCapacity is the fixed size of each slot's data buffer.
func (p *Pool) DataCapacity() int {
	if len(p.slots) == 0 {
		return 0
	}
	return p.slots[0].dataBufferSize
}

// Slot returns the slot at index i.
func (p *Pool) Slot(i int) *Slot { return p.slots[i] }

// InFlight counts the slots currently holding an incomplete frame.
func (p *Pool) InFlight() int {
	n := 0
	for _, s := range p.slots {
		if !s.free {
			n++
		}
	}
	return n
}

// FindBySerial returns the non-free slot holding serial, or nil.
func (p *Pool) FindBySerial(serial uint32) *Slot {
	for _, s := range p.slots {
		if !s.free && s.serialNumber == serial {
			return s
		}
	}
	return nil
}

// Allocate returns a free slot, or failing that the first occupied slot idle
// for longer than the receive timeout. reclaimed is true when a stalled frame
// was discarded to make room. There is no LRU or fairness policy: under
// sustained overload new frames are dropped until stale slots age out.
// The returned slot is still marked free; the caller initialises it.
func (p *Pool) Allocate(now time.Time) (slot *Slot, reclaimed bool) {
	for _, s := range p.slots {
		if s.free {
			return s, false
		}
	}
	for _, s := range p.slots {
		if now.Sub(s.lastTouched) > p.timeout {
			s.free = true
			return s, true
		}
	}
	return nil, false
}

// Touch records activity on a slot.
func (p *Pool) Touch(s *Slot, now time.Time) {
	s.lastTouched = now
}

// Release marks a slot free. Its buffers are kept for reuse.
func (p *Pool) Release(s *Slot) {
	s.free = true
}
