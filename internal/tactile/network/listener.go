package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/tac3d.report/internal/monitoring"
	"github.com/banshee-data/tac3d.report/internal/timeutil"
)

// DatagramHandler consumes one received datagram. The slice is only valid for
// the duration of the call.
type DatagramHandler interface {
	HandleDatagram(datagram []byte, from *net.UDPAddr)
}

// DatagramHandlerFunc adapts a function to DatagramHandler.
type DatagramHandlerFunc func(datagram []byte, from *net.UDPAddr)

// HandleDatagram calls f(datagram, from).
func (f DatagramHandlerFunc) HandleDatagram(datagram []byte, from *net.UDPAddr) { f(datagram, from) }

// StatsLogger periodically reports receive statistics.
type StatsLogger interface {
	LogStats()
}

// ErrNotListening is returned by WriteToUDP before Start has bound the socket
// or after it has returned.
var ErrNotListening = errors.New("udp listener is not running")

const (
	// maxUDPPayload sizes the receive buffer so an oversized datagram is read
	// whole and rejected downstream instead of being truncated silently.
	maxUDPPayload = 65535

	readPollInterval = 100 * time.Millisecond
	readErrorBackoff = 10 * time.Millisecond
	firstStatsDelay  = 2 * time.Second
)

// UDPListener owns the receive socket and hands every datagram to its handler
// on the Start goroutine.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	stats       StatsLogger
	forwarder   *DatagramForwarder
	handler     DatagramHandler
	factory     UDPSocketFactory
	clock       timeutil.Clock

	mu   sync.RWMutex
	conn UDPSocket
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address       string // host:port to bind, e.g. ":9988"
	RcvBuf        int
	LogInterval   time.Duration
	Stats         StatsLogger
	Forwarder     *DatagramForwarder
	Handler       DatagramHandler
	SocketFactory UDPSocketFactory // defaults to real sockets
	Clock         timeutil.Clock   // defaults to RealClock
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	handler := config.Handler
	if handler == nil {
		handler = DatagramHandlerFunc(func([]byte, *net.UDPAddr) {})
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = NewRealUDPSocketFactory()
	}
	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		stats:       stats,
		forwarder:   config.Forwarder,
		handler:     handler,
		factory:     factory,
		clock:       clock,
	}
}

type noopStats struct{}

func (noopStats) LogStats() {}

// Start binds the socket and runs the receive loop until ctx is cancelled or
// the socket is closed. Read errors are logged and the loop carries on.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		conn.Close()
	}()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	log.Printf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	go l.startStatsLogging(ctx)

	buffer := make([]byte, maxUDPPayload)

	for {
		select {
		case <-ctx.Done():
			log.Print("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Set read deadline to allow checking context cancellation
		conn.SetReadDeadline(l.clock.Now().Add(readPollInterval))

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("UDP read error: %v", err)
			l.clock.Sleep(readErrorBackoff)
			continue
		}

		datagram := buffer[:n]
		if l.forwarder != nil {
			l.forwarder.ForwardAsync(datagram)
		}
		l.handler.HandleDatagram(datagram, from)
	}
}

// startStatsLogging periodically logs receive statistics.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	// Trigger an initial stats report shortly after startup to avoid a long
	// silence on first-run. Then continue on the configured interval.
	first := l.clock.NewTicker(firstStatsDelay)
	select {
	case <-ctx.Done():
		first.Stop()
		return
	case <-first.C():
		first.Stop()
		l.stats.LogStats()
	}

	ticker := l.clock.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			l.stats.LogStats()
		}
	}
}

// WriteToUDP sends b to addr from the listening socket, so the sensor sees it
// come from the port it streams to.
func (l *UDPListener) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return 0, ErrNotListening
	}
	return conn.WriteToUDP(b, addr)
}

// LocalAddr returns the bound address, or nil when not running.
func (l *UDPListener) LocalAddr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Close closes the socket, which ends a running Start.
func (l *UDPListener) Close() error {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
