package l2reassembly

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/banshee-data/tac3d.report/internal/monitoring"
	"github.com/banshee-data/tac3d.report/internal/tactile"
	"github.com/banshee-data/tac3d.report/internal/tactile/l1datagrams"
	"github.com/banshee-data/tac3d.report/internal/timeutil"
)

// Assembled is a completed frame as handed to a FrameHandler. Header and Data
// alias the slot's buffers and are only valid until HandleFrame returns.
type Assembled struct {
	SerialNumber uint32
	Header       []byte
	Data         []byte
	From         *net.UDPAddr
	SlotIndex    int
}

// FrameHandler receives completed frames.
type FrameHandler interface {
	HandleFrame(frame Assembled)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(frame Assembled)

// HandleFrame calls f(frame).
func (f FrameHandlerFunc) HandleFrame(frame Assembled) { f(frame) }

// Stats receives dispatcher counters.
type Stats interface {
	AddDatagram(bytes int)
	AddDropped(reason tactile.DropReason)
	AddReclaimed()
	AddFrameCompleted()
}

// noopStats is a Stats implementation that does nothing.
// It is used as a safe default when no stats collector is provided.
type noopStats struct{}

func (noopStats) AddDatagram(int)               {}
func (noopStats) AddDropped(tactile.DropReason) {}
func (noopStats) AddReclaimed()                 {}
func (noopStats) AddFrameCompleted()            {}

// Outcome describes what the dispatcher did with a datagram.
type Outcome int

const (
	// Dropped means the datagram was discarded; stats carry the reason.
	Dropped Outcome = iota
	// Accepted means the datagram was stored and its frame is still incomplete.
	Accepted
	// Completed means the datagram finished a frame and the handler ran.
	Completed
)

func (o Outcome) String() string {
	switch o {
	case Dropped:
		return "dropped"
	case Accepted:
		return "accepted"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// DispatcherConfig contains configuration options for the dispatcher
type DispatcherConfig struct {
	Pool    *Pool
	Handler FrameHandler
	Stats   Stats
	Clock   timeutil.Clock   // defaults to RealClock
	Order   binary.ByteOrder // sub-header byte order; defaults to the host order
}

// Dispatcher routes datagrams into pool slots and fires the handler when a
// frame completes.
type Dispatcher struct {
	pool    *Pool
	handler FrameHandler
	stats   Stats
	clock   timeutil.Clock
	order   binary.ByteOrder
	chunk   int
}

// NewDispatcher creates a dispatcher. A nil Pool gets a default pool.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	pool := cfg.Pool
	if pool == nil {
		pool = NewPool(PoolConfig{})
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
	handler := cfg.Handler
	if handler == nil {
		handler = FrameHandlerFunc(func(Assembled) {})
	}
	return &Dispatcher{
		pool:    pool,
		handler: handler,
		stats:   stats,
		clock:   clock,
		order:   order,
		chunk:   l1datagrams.ChunkSize(pool.MaxDatagramSize()),
	}
}

// Pool returns the dispatcher's slot pool.
func (d *Dispatcher) Pool() *Pool { return d.pool }

// HandleDatagram implements the network listener's handler contract.
func (d *Dispatcher) HandleDatagram(datagram []byte, from *net.UDPAddr) {
	d.Dispatch(datagram, from)
}

// Dispatch processes one datagram. The datagram buffer may be reused by the
// caller once Dispatch returns.
func (d *Dispatcher) Dispatch(datagram []byte, from *net.UDPAddr) Outcome {
	d.stats.AddDatagram(len(datagram))

	h, payload, err := l1datagrams.ParseHeader(datagram, d.order)
	if err != nil {
		return d.drop(tactile.DropShort, h, "%v", err)
	}

	now := d.clock.Now()
	slot := d.pool.FindBySerial(h.SerialNumber)
	fresh := false
	if slot == nil {
		var reclaimed bool
		slot, reclaimed = d.pool.Allocate(now)
		if slot == nil {
			return d.drop(tactile.DropPoolExhausted, h, "no free slot among %d", d.pool.Capacity())
		}
		if reclaimed {
			d.stats.AddReclaimed()
			monitoring.Debugf("reclaimed stalled slot %d (serial=%d, %d/%d datagrams)",
				slot.index, slot.serialNumber, slot.received, int(slot.expectedData)+1)
		}
		slot.reset(h.SerialNumber, h.TotalDataDatagrams)
		fresh = true
	}

	// A frame whose declared size cannot fit the data buffer would overrun it.
	if (int(slot.expectedData)+1)*d.pool.MaxDatagramSize() > len(slot.data) {
		if fresh {
			d.pool.Release(slot)
		}
		return d.drop(tactile.DropOversize, h, "declared %d data datagrams exceed %d byte buffer",
			slot.expectedData, len(slot.data))
	}

	// The first datagram seen fixes the frame geometry.
	if h.TotalDataDatagrams != slot.expectedData || h.Index > slot.expectedData {
		if fresh {
			d.pool.Release(slot)
		}
		return d.drop(tactile.DropBadIndex, h, "slot expects %d data datagrams", slot.expectedData)
	}

	d.pool.Touch(slot, now)

	if slot.hasSeen(h.Index) {
		return d.drop(tactile.DropDuplicate, h, "already received")
	}

	if h.IsFrameHeader() {
		if !slot.writeHeader(payload) {
			if fresh {
				d.pool.Release(slot)
			}
			return d.drop(tactile.DropOversize, h, "header payload %d bytes", len(payload))
		}
	} else {
		offset := (int(h.Index) - 1) * d.chunk
		if len(payload) > d.chunk || !slot.writeData(offset, payload) {
			if fresh {
				d.pool.Release(slot)
			}
			return d.drop(tactile.DropOversize, h, "chunk of %d bytes at offset %d", len(payload), offset)
		}
	}
	slot.markSeen(h.Index)

	if !slot.Complete() {
		return Accepted
	}

	d.stats.AddFrameCompleted()
	d.handler.HandleFrame(Assembled{
		SerialNumber: slot.serialNumber,
		Header:       slot.Header(),
		Data:         slot.Data(),
		From:         from,
		SlotIndex:    slot.index,
	})
	d.pool.Release(slot)
	return Completed
}

func (d *Dispatcher) drop(reason tactile.DropReason, h l1datagrams.Header, format string, args ...any) Outcome {
	d.stats.AddDropped(reason)
	if monitoring.Verbose() {
		monitoring.Debugf("dropped datagram (%s) %s: %s", reason, h, fmt.Sprintf(format, args...))
	}
	return Dropped
}
