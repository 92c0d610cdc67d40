package session

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tac3d.report/internal/monitoring"
	"github.com/banshee-data/tac3d.report/internal/tactile/l1datagrams"
	"github.com/banshee-data/tac3d.report/internal/tactile/l2reassembly"
	"github.com/banshee-data/tac3d.report/internal/tactile/l3frames"
	"github.com/banshee-data/tac3d.report/internal/tactile/network"
	"github.com/banshee-data/tac3d.report/internal/timeutil"
)

const testDatagramSize = l1datagrams.DefaultMaxDatagramSize

var (
	sensorA = &net.UDPAddr{IP: net.ParseIP("192.168.2.100"), Port: 50000}
	sensorB = &net.UDPAddr{IP: net.ParseIP("192.168.2.101"), Port: 50000}
)

// sensorFrame builds the datagrams of one frame carrying a resultant force
// and the given warm-up progress.
func sensorFrame(t *testing.T, serial uint32, sn string, index uint32, progress float64) [][]byte {
	t.Helper()
	data := l3frames.AppendFloat64s(nil, binary.LittleEndian, 1, 2, float64(index))
	data = l3frames.AppendFloat64s(data, binary.LittleEndian, progress)
	header, err := l3frames.EncodeHeader(l3frames.Header{
		SensorID:      sn,
		FrameIndex:    index,
		SendTimestamp: float64(index) / 30,
		Fields: []l3frames.FieldDescriptor{
			{Name: l3frames.FieldResultantForce, Type: l3frames.FieldMatrix, Offset: 0, Length: 24, Rows: 1, Cols: 3},
			{Name: l3frames.FieldInitializeProgress, Type: l3frames.FieldFloat64, Offset: 24, Length: 8},
		},
	})
	require.NoError(t, err)

	f := &l1datagrams.Fragmenter{MaxDatagramSize: testDatagramSize, Order: binary.LittleEndian}
	dgrams, err := f.Fragment(serial, header, data)
	require.NoError(t, err)
	return dgrams
}

type frameLog struct {
	mu     sync.Mutex
	frames []l3frames.Metadata
	forces [][3]float64
}

func (l *frameLog) callback(f *l3frames.Frame) {
	snap := f.Snapshot()
	v, _ := snap.Vector3(l3frames.FieldResultantForce)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f.Metadata)
	l.forces = append(l.forces, v)
}

func (l *frameLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

type harness struct {
	sess *Session
	sock *network.MockUDPSocket
	log  *frameLog
	done chan error
	stop context.CancelFunc
}

func newHarness(t *testing.T, cfg Config, packets ...network.MockUDPPacket) *harness {
	t.Helper()
	monitoring.SetLogger(nil)

	sock := network.NewMockUDPSocket(packets)
	h := &harness{sock: sock, log: &frameLog{}, done: make(chan error, 1)}

	cfg.Listener.Address = ":9988"
	cfg.Listener.SocketFactory = network.NewMockUDPSocketFactory(sock)
	cfg.Order = binary.LittleEndian
	cfg.Callback = h.log.callback
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewMockClock(time.Unix(1000, 0))
	}
	if cfg.Pool.MaxFramePayloadSize == 0 {
		cfg.Pool.MaxFramePayloadSize = 1 << 16
	}

	sess, err := New(cfg)
	require.NoError(t, err)
	h.sess = sess
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	go func() { h.done <- h.sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	require.Eventually(t, func() bool { return h.sess.LocalAddr() != nil }, time.Second, time.Millisecond)
}

func (h *harness) send(from *net.UDPAddr, dgrams ...[]byte) {
	for _, d := range dgrams {
		h.sock.Enqueue(network.MockUDPPacket{Data: d, Addr: from})
	}
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	require.Eventually(t, h.sock.Drained, time.Second, time.Millisecond)
	// Drained flips when the last datagram is read; give the loop a moment to
	// finish handling it.
	time.Sleep(10 * time.Millisecond)
}

func TestSession_OutOfOrderFrameDeliveredOnce(t *testing.T) {
	const datagramSize = 400
	h := newHarness(t, Config{Pool: l2reassembly.PoolConfig{Capacity: 2, MaxDatagramSize: datagramSize}})

	header, err := l3frames.EncodeHeader(l3frames.Header{
		SensorID:   "HDL1-0001",
		FrameIndex: 321,
		Fields: []l3frames.FieldDescriptor{
			{Name: l3frames.FieldResultantForce, Type: l3frames.FieldMatrix, Offset: 0, Length: 24, Rows: 1, Cols: 3},
			{Name: l3frames.FieldInitializeProgress, Type: l3frames.FieldFloat64, Offset: 592, Length: 8},
		},
	})
	require.NoError(t, err)
	data := l3frames.AppendFloat64s(nil, binary.LittleEndian, 4, 5, 6)
	data = append(data, make([]byte, 592-len(data))...)
	data = l3frames.AppendFloat64s(data, binary.LittleEndian, 100)

	f := &l1datagrams.Fragmenter{MaxDatagramSize: datagramSize, Order: binary.LittleEndian}
	dgrams, err := f.Fragment(7, header, data)
	require.NoError(t, err)
	require.Len(t, dgrams, 3, "header plus two data datagrams")

	h.run(t)
	h.send(sensorA, dgrams[0], dgrams[2], dgrams[1])
	h.drain(t)

	require.Equal(t, 1, h.log.count())
	assert.Equal(t, uint32(321), h.log.frames[0].FrameIndex)
	assert.Equal(t, "HDL1-0001", h.log.frames[0].SensorID)
	assert.Equal(t, [3]float64{4, 5, 6}, h.log.forces[0])

	snap := h.sess.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.Datagrams)
	assert.Equal(t, int64(1), snap.FramesCompleted)
	assert.Equal(t, int64(1), snap.FramesDelivered)
}

func TestSession_ReadinessGate(t *testing.T) {
	h := newHarness(t, Config{})
	h.run(t)
	assert.False(t, h.sess.Ready())

	h.send(sensorA, sensorFrame(t, 1, "A1-0001", 1, 0)...)
	h.send(sensorA, sensorFrame(t, 2, "A1-0001", 2, 99.9)...)
	h.drain(t)
	assert.Zero(t, h.log.count(), "warming up frames are withheld")
	assert.False(t, h.sess.Ready())

	// The sender is known even before it is ready.
	_, ok := h.sess.Endpoint("A1-0001")
	assert.True(t, ok)

	h.send(sensorA, sensorFrame(t, 3, "A1-0001", 3, 100)...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sess.WaitUntilReady(ctx))
	require.Eventually(t, func() bool { return h.log.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint32(3), h.log.frames[0].FrameIndex)
	assert.Equal(t, int64(2), h.sess.Stats().Snapshot().FramesNotReady)
}

func TestSession_CalibrateAndQuitRouting(t *testing.T) {
	h := newHarness(t, Config{})
	h.run(t)

	err := h.sess.Calibrate("A1-0001")
	assert.ErrorIs(t, err, ErrSensorNotConnected)
	assert.Empty(t, h.sock.Written(), "nothing sent to a never-seen sensor")

	h.send(sensorA, sensorFrame(t, 1, "A1-0001", 1, 100)...)
	h.send(sensorB, sensorFrame(t, 2, "B1-0002", 1, 100)...)
	h.drain(t)

	require.NoError(t, h.sess.Calibrate("A1-0001"))
	writes := h.sock.Written()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("$C"), writes[0].Data)
	assert.Equal(t, sensorA, writes[0].Addr)

	require.NoError(t, h.sess.Quit("B1-0002"))
	writes = h.sock.Written()
	require.Len(t, writes, 2)
	assert.Equal(t, []byte("$Q"), writes[1].Data)
	assert.Equal(t, sensorB, writes[1].Addr)
}

func TestSession_EndpointFollowsLatestSender(t *testing.T) {
	h := newHarness(t, Config{})
	h.run(t)

	moved := &net.UDPAddr{IP: net.ParseIP("192.168.2.200"), Port: 50001}
	h.send(sensorA, sensorFrame(t, 1, "DS1-0009", 1, 100)...)
	h.send(moved, sensorFrame(t, 2, "DS1-0009", 2, 100)...)
	h.drain(t)

	addr, ok := h.sess.Endpoint("DS1-0009")
	require.True(t, ok)
	assert.Equal(t, moved, addr)

	sensors := h.sess.Sensors()
	require.Len(t, sensors, 1)
	assert.Equal(t, "DS1", sensors[0].Model.Name)
	assert.Equal(t, uint32(2), sensors[0].LastFrameIndex)
	assert.Equal(t, int64(2), sensors[0].Frames)
}

func TestSession_FrameQueueDropsOldest(t *testing.T) {
	h := newHarness(t, Config{FrameQueueSize: 2})
	h.run(t)

	for i := uint32(1); i <= 3; i++ {
		h.send(sensorA, sensorFrame(t, i, "A1-0001", i, 100)...)
	}
	h.drain(t)
	require.Equal(t, 3, h.log.count())
	assert.Equal(t, 2, h.sess.QueueLen())

	first, ok := h.sess.GetFrame()
	require.True(t, ok)
	second, ok := h.sess.GetFrame()
	require.True(t, ok)
	_, ok = h.sess.GetFrame()
	assert.False(t, ok)

	assert.Equal(t, uint32(2), first.FrameIndex)
	assert.Equal(t, uint32(3), second.FrameIndex)
	v, ok := second.Vector3(l3frames.FieldResultantForce)
	require.True(t, ok)
	assert.Equal(t, 3.0, v[2], "snapshot keeps its own copy")
}

func TestSession_FrameQueueDisabled(t *testing.T) {
	h := newHarness(t, Config{FrameQueueSize: -1})
	h.run(t)
	h.send(sensorA, sensorFrame(t, 1, "A1-0001", 1, 100)...)
	h.drain(t)

	require.Equal(t, 1, h.log.count())
	_, ok := h.sess.GetFrame()
	assert.False(t, ok)
}

func TestSession_WaitUntilReadyCancelAndClose(t *testing.T) {
	h := newHarness(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.sess.WaitUntilReady(ctx), context.Canceled)

	h.run(t)
	waitErr := make(chan error, 1)
	go func() { waitErr <- h.sess.WaitUntilReady(context.Background()) }()

	h.stop()
	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilReady did not return after the session stopped")
	}
}

func TestSession_ControlAfterStop(t *testing.T) {
	h := newHarness(t, Config{})

	// Frames handled directly, without a running socket.
	for _, d := range sensorFrame(t, 1, "A1-0001", 1, 100) {
		h.sess.Dispatcher().HandleDatagram(d, sensorA)
	}
	require.Equal(t, 1, h.log.count())

	err := h.sess.Calibrate("A1-0001")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_UndecodableHeaderIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	f := &l1datagrams.Fragmenter{MaxDatagramSize: testDatagramSize, Order: binary.LittleEndian}
	dgrams, err := f.Fragment(9, []byte("index: 1\n"), nil)
	require.NoError(t, err)

	h.sess.Dispatcher().HandleDatagram(dgrams[0], sensorA)
	assert.Zero(t, h.log.count())
	assert.Empty(t, h.sess.Sensors())
	assert.Equal(t, int64(1), h.sess.Stats().Snapshot().DecodeErrors)
}

func TestSession_HostileFieldSizesDoNotStopDelivery(t *testing.T) {
	h := newHarness(t, Config{})
	data := l3frames.AppendFloat64s(nil, binary.LittleEndian, 1, 2, 3, 100)
	header, err := l3frames.EncodeHeader(l3frames.Header{
		SensorID:   "A1-0001",
		FrameIndex: 1,
		Fields: []l3frames.FieldDescriptor{
			{Name: l3frames.FieldResultantForce, Type: l3frames.FieldMatrix, Offset: 0, Length: 24, Rows: 1, Cols: 3},
			{Name: l3frames.FieldForces, Type: l3frames.FieldMatrix, Offset: 0, Length: 0, Rows: math.MaxInt32, Cols: math.MaxInt32},
			{Name: l3frames.FieldPositions, Type: l3frames.FieldMatrix, Offset: math.MaxInt, Length: 8, Rows: 1, Cols: 1},
			{Name: l3frames.FieldInitializeProgress, Type: l3frames.FieldFloat64, Offset: 24, Length: 8},
		},
	})
	require.NoError(t, err)
	f := &l1datagrams.Fragmenter{MaxDatagramSize: testDatagramSize, Order: binary.LittleEndian}
	hostile, err := f.Fragment(1, header, data)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		for _, d := range hostile {
			h.sess.Dispatcher().Dispatch(d, sensorA)
		}
	})
	for _, d := range sensorFrame(t, 2, "A1-0001", 2, 100) {
		h.sess.Dispatcher().Dispatch(d, sensorA)
	}

	require.Equal(t, 2, h.log.count())
	assert.Equal(t, uint32(2), h.log.frames[1].FrameIndex)
	assert.Equal(t, [3]float64{1, 2, 2}, h.log.forces[1])
	assert.Equal(t, 2, h.sess.QueueLen())
	assert.Equal(t, int64(2), h.sess.Stats().Snapshot().DecodeErrors)
}

func TestNew_RegistersExtraFields(t *testing.T) {
	_, err := New(Config{Fields: []l3frames.FieldInfo{{Name: "Temperature", Type: l3frames.FieldFloat64}}})
	require.NoError(t, err)

	_, err = New(Config{Fields: []l3frames.FieldInfo{{Name: l3frames.FieldForces, Type: l3frames.FieldInt32}}})
	assert.ErrorIs(t, err, l3frames.ErrFieldTypeMismatch)
}
