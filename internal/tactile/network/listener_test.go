package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tac3d.report/internal/monitoring"
	"github.com/banshee-data/tac3d.report/internal/timeutil"
)

var sensorAddr = &net.UDPAddr{IP: net.ParseIP("192.168.2.100"), Port: 50000}

type collectingHandler struct {
	mu    sync.Mutex
	got   [][]byte
	froms []*net.UDPAddr
}

func (h *collectingHandler) HandleDatagram(b []byte, from *net.UDPAddr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, append([]byte(nil), b...))
	h.froms = append(h.froms, from)
}

func (h *collectingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

type countingLogger struct{ n atomic.Int32 }

func (c *countingLogger) LogStats() { c.n.Add(1) }

func startListener(t *testing.T, cfg UDPListenerConfig) (cancel func(), done <-chan error) {
	t.Helper()
	l := NewUDPListener(cfg)
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, errCh
}

func TestUDPListener_DeliversDatagrams(t *testing.T) {
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(nil)

	sock := NewMockUDPSocket([]MockUDPPacket{
		{Data: []byte("first"), Addr: sensorAddr},
		{Data: []byte("second"), Addr: sensorAddr},
	})
	factory := NewMockUDPSocketFactory(sock)
	h := &collectingHandler{}

	cancel, done := startListener(t, UDPListenerConfig{
		Address:       ":9988",
		RcvBuf:        1 << 20,
		Handler:       h,
		SocketFactory: factory,
		Clock:         timeutil.NewMockClock(time.Unix(0, 0)),
	})

	require.Eventually(t, func() bool { return h.count() == 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []byte("first"), h.got[0])
	assert.Equal(t, []byte("second"), h.got[1])
	assert.Equal(t, sensorAddr, h.froms[0])

	require.Len(t, factory.ListenCalls, 1)
	assert.Equal(t, 9988, factory.ListenCalls[0].Addr.Port)
	assert.Equal(t, 1<<20, sock.ReadBufferSize)
	assert.True(t, sock.IsClosed(), "socket closed when Start returns")
}

func TestUDPListener_ListenError(t *testing.T) {
	factory := NewMockUDPSocketFactory(nil)
	factory.Error = errors.New("address in use")

	l := NewUDPListener(UDPListenerConfig{Address: ":9988", SocketFactory: factory})
	err := l.Start(context.Background())
	assert.ErrorContains(t, err, "address in use")
}

func TestUDPListener_BadAddress(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "not an address"})
	assert.Error(t, l.Start(context.Background()))
}

func TestUDPListener_ReadErrorBacksOffAndContinues(t *testing.T) {
	var logs []string
	var mu sync.Mutex
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		logs = append(logs, format)
	})
	defer monitoring.SetLogger(nil)

	sock := NewMockUDPSocket([]MockUDPPacket{{Data: []byte("after error"), Addr: sensorAddr}})
	sock.ReadError = errors.New("connection refused")
	sock.SetReadBufferError = errors.New("not permitted")
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	h := &collectingHandler{}

	cancel, done := startListener(t, UDPListenerConfig{
		Address:       ":0",
		RcvBuf:        4096,
		Handler:       h,
		SocketFactory: NewMockUDPSocketFactory(sock),
		Clock:         clock,
	})

	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []time.Duration{readErrorBackoff}, clock.Sleeps())
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, logs, "UDP read error: %v")
}

func TestUDPListener_ClosedSocketEndsLoop(t *testing.T) {
	sock := NewMockUDPSocket(nil)
	l := NewUDPListener(UDPListenerConfig{Address: ":0", SocketFactory: NewMockUDPSocketFactory(sock)})

	done := make(chan error, 1)
	go func() { done <- l.Start(context.Background()) }()

	require.Eventually(t, func() bool { return l.LocalAddr() != nil }, time.Second, time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after Close")
	}
}

func TestUDPListener_WriteToUDP(t *testing.T) {
	sock := NewMockUDPSocket(nil)
	l := NewUDPListener(UDPListenerConfig{Address: ":0", SocketFactory: NewMockUDPSocketFactory(sock)})

	_, err := l.WriteToUDP([]byte("$C"), sensorAddr)
	assert.ErrorIs(t, err, ErrNotListening)
	assert.Nil(t, l.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Start(ctx)
	require.Eventually(t, func() bool { return l.LocalAddr() != nil }, time.Second, time.Millisecond)

	n, err := l.WriteToUDP([]byte("$C"), sensorAddr)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	writes := sock.Written()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("$C"), writes[0].Data)
	assert.Equal(t, sensorAddr, writes[0].Addr)
}

func TestUDPListener_LogsStatsOnSchedule(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	stats := &countingLogger{}

	startListener(t, UDPListenerConfig{
		Address:       ":0",
		LogInterval:   time.Minute,
		Stats:         stats,
		SocketFactory: NewMockUDPSocketFactory(NewMockUDPSocket(nil)),
		Clock:         clock,
	})

	require.Eventually(t, func() bool { return clock.TickerCount() == 1 }, time.Second, time.Millisecond)
	clock.Advance(firstStatsDelay)
	require.Eventually(t, func() bool { return stats.n.Load() == 1 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return clock.TickerCount() == 2 }, time.Second, time.Millisecond)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return stats.n.Load() == 2 }, time.Second, time.Millisecond)
}

func TestDatagramHandlerFunc(t *testing.T) {
	var got string
	DatagramHandlerFunc(func(b []byte, _ *net.UDPAddr) { got = string(b) }).HandleDatagram([]byte("x"), nil)
	assert.Equal(t, "x", got)
}
