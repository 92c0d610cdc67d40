package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/banshee-data/tac3d.report/internal/monitoring"
	"github.com/banshee-data/tac3d.report/internal/tactile"
	"github.com/banshee-data/tac3d.report/internal/tactile/l2reassembly"
	"github.com/banshee-data/tac3d.report/internal/tactile/l3frames"
	"github.com/banshee-data/tac3d.report/internal/tactile/network"
	"github.com/banshee-data/tac3d.report/internal/timeutil"
)

var (
	// ErrSensorNotConnected is returned by Calibrate and Quit for a sensor that
	// has not delivered a complete frame.
	ErrSensorNotConnected = errors.New("sensor is not connected")
	// ErrSessionClosed is returned once the receive loop has stopped.
	ErrSessionClosed = errors.New("session closed")
)

// Control datagram payloads.
var (
	CalibrateCommand = []byte("$C")
	QuitCommand      = []byte("$Q")
)

// DefaultFrameQueueSize is the number of snapshots GetFrame can return.
const DefaultFrameQueueSize = 5

// Callback receives every frame that passes the readiness gate. It runs on the
// receive goroutine and must not block. The frame and its store are reused for
// the next frame; take a Snapshot to keep data.
type Callback func(frame *l3frames.Frame)

// Sender transmits control datagrams.
type Sender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Endpoint is what the session knows about one sensor.
type Endpoint struct {
	SensorID       string
	Addr           *net.UDPAddr
	Model          l3frames.Model
	LastFrameIndex uint32
	LastReceive    float64 // decoder receive timestamp, seconds
	Frames         int64   // completed frames, ready or not
}

// Config contains configuration options for a session
type Config struct {
	// Listener configures the receive socket. Handler is set by the session.
	Listener network.UDPListenerConfig
	Pool     l2reassembly.PoolConfig
	// Order is the byte order of sub-headers and field data.
	Order binary.ByteOrder
	// FrameQueueSize bounds the GetFrame queue. Zero selects the default; a
	// negative value disables the queue.
	FrameQueueSize int
	// Fields registers additional field names the decoder should fill.
	Fields   []l3frames.FieldInfo
	Callback Callback
	Stats    *tactile.DatagramStats
	Clock    timeutil.Clock
}

// Session receives frames from one or more sensors sharing a port.
type Session struct {
	listener   *network.UDPListener
	dispatcher *l2reassembly.Dispatcher
	decoder    *l3frames.Decoder
	callback   Callback
	stats      *tactile.DatagramStats
	sender     Sender

	mu        sync.RWMutex
	endpoints map[string]*Endpoint

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	qmu       sync.Mutex
	queue     []*l3frames.Snapshot
	queueSize int
}

// New creates a session. It does not touch the network until Run.
func New(cfg Config) (*Session, error) {
	stats := cfg.Stats
	if stats == nil {
		stats = tactile.NewDatagramStats()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	queueSize := cfg.FrameQueueSize
	if queueSize == 0 {
		queueSize = DefaultFrameQueueSize
	}
	if queueSize < 0 {
		queueSize = 0
	}

	store := l3frames.NewStore()
	for _, f := range cfg.Fields {
		if err := store.Register(f.Name, f.Type); err != nil {
			return nil, fmt.Errorf("register field: %w", err)
		}
	}

	s := &Session{
		callback:  cfg.Callback,
		stats:     stats,
		endpoints: make(map[string]*Endpoint),
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
		queueSize: queueSize,
	}
	pool := l2reassembly.NewPool(cfg.Pool)
	s.decoder = l3frames.NewDecoder(l3frames.DecoderConfig{
		Store: store,
		Stats: stats,
		Clock: clock,
		Order: cfg.Order,
		// No matrix can be larger than a reassembled data buffer.
		MaxMatrixCells: pool.DataCapacity() / 8,
	})
	s.dispatcher = l2reassembly.NewDispatcher(l2reassembly.DispatcherConfig{
		Pool:    pool,
		Handler: s,
		Stats:   stats,
		Clock:   clock,
		Order:   cfg.Order,
	})

	lc := cfg.Listener
	lc.Handler = s.dispatcher
	if lc.Stats == nil {
		lc.Stats = stats
	}
	if lc.Clock == nil {
		lc.Clock = clock
	}
	s.listener = network.NewUDPListener(lc)
	s.sender = s.listener
	return s, nil
}

// Run receives datagrams until ctx is cancelled or the socket is closed.
// Frame decoding and the callback run on this goroutine.
func (s *Session) Run(ctx context.Context) error {
	defer s.closeOnce.Do(func() { close(s.closed) })
	return s.listener.Start(ctx)
}

// Close stops a running session.
func (s *Session) Close() error {
	return s.listener.Close()
}

// Stats returns the session's counters.
func (s *Session) Stats() *tactile.DatagramStats { return s.stats }

// Dispatcher exposes the datagram entry point, for replaying captures
// through the same reassembly path as live traffic.
func (s *Session) Dispatcher() *l2reassembly.Dispatcher { return s.dispatcher }

// LocalAddr returns the bound receive address while running.
func (s *Session) LocalAddr() net.Addr { return s.listener.LocalAddr() }

// HandleFrame decodes a reassembled frame, records its sender and, when the
// sensor reports ready, delivers it. It is called by the dispatcher on the
// receive goroutine.
func (s *Session) HandleFrame(a l2reassembly.Assembled) {
	frame, ready, err := s.decoder.Decode(a.Header, a.Data)
	if err != nil {
		monitoring.Logf("Failed to decode frame (serial=%d) from %v: %v", a.SerialNumber, a.From, err)
		return
	}

	s.updateEndpoint(frame, a.From)

	if !ready {
		return
	}
	s.readyOnce.Do(func() {
		monitoring.Logf("Tac3D sensor %s connected", frame.SensorID)
		close(s.ready)
	})

	s.enqueue(frame)
	s.stats.AddFrameDelivered()
	if s.callback != nil {
		s.callback(frame)
	}
}

func (s *Session) updateEndpoint(frame *l3frames.Frame, from *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[frame.SensorID]
	if !ok {
		ep = &Endpoint{SensorID: frame.SensorID, Model: l3frames.ModelFromSN(frame.SensorID)}
		s.endpoints[frame.SensorID] = ep
	}
	if from != nil {
		ep.Addr = from
	}
	ep.LastFrameIndex = frame.FrameIndex
	ep.LastReceive = frame.ReceiveTimestamp
	ep.Frames++
}

// Sensors lists the known sensors sorted by id.
func (s *Session) Sensors() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, *ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// Endpoint returns the last known address of a sensor.
func (s *Session) Endpoint(sensorID string) (*net.UDPAddr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[sensorID]
	if !ok || ep.Addr == nil {
		return nil, false
	}
	return ep.Addr, true
}

// Calibrate asks a sensor to re-zero its displacement baseline.
func (s *Session) Calibrate(sensorID string) error {
	if err := s.sendControl(sensorID, CalibrateCommand); err != nil {
		monitoring.Logf("Calibration failed! (sensor %s: %v)", sensorID, err)
		return err
	}
	monitoring.Logf("Calibrate signal sent to %s", sensorID)
	return nil
}

// Quit asks a sensor to stop streaming.
func (s *Session) Quit(sensorID string) error {
	if err := s.sendControl(sensorID, QuitCommand); err != nil {
		monitoring.Logf("Quit failed! (sensor %s: %v)", sensorID, err)
		return err
	}
	monitoring.Logf("Quit signal sent to %s", sensorID)
	return nil
}

func (s *Session) sendControl(sensorID string, cmd []byte) error {
	addr, ok := s.Endpoint(sensorID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSensorNotConnected, sensorID)
	}
	if _, err := s.sender.WriteToUDP(cmd, addr); err != nil {
		if errors.Is(err, network.ErrNotListening) {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return fmt.Errorf("send %q to %s: %w", cmd, addr, err)
	}
	return nil
}

// WaitUntilReady blocks until a frame has passed the readiness gate, ctx is
// done, or the session stops.
func (s *Session) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	default:
	}
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrSessionClosed
	}
}

// Ready reports whether a ready frame has been received.
func (s *Session) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *Session) enqueue(frame *l3frames.Frame) {
	if s.queueSize == 0 {
		return
	}
	snap := frame.Snapshot()
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) >= s.queueSize {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
	}
	s.queue = append(s.queue, snap)
}

// GetFrame pops the oldest queued snapshot without blocking.
func (s *Session) GetFrame() (*l3frames.Snapshot, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	snap := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return snap, true
}

// QueueLen returns the number of queued snapshots.
func (s *Session) QueueLen() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue)
}
