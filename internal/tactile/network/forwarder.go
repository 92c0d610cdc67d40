package network

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/tac3d.report/internal/tactile"
)

// ForwardStats records forwarder drops.
type ForwardStats interface {
	AddDropped(reason tactile.DropReason)
}

const forwardQueueSize = 1000

// DatagramForwarder copies received datagrams to another UDP endpoint without
// blocking the receive loop. Datagrams that cannot be queued or sent are
// dropped and counted.
type DatagramForwarder struct {
	conn        io.WriteCloser
	channel     chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	startOnce   sync.Once
	stats       ForwardStats
	logInterval time.Duration
	address     string
}

// NewDatagramForwarder creates a forwarder that sends datagrams to addr:port.
func NewDatagramForwarder(addr string, port int, stats ForwardStats, logInterval time.Duration) (*DatagramForwarder, error) {
	forwardAddress := net.JoinHostPort(addr, fmt.Sprint(port))
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return newDatagramForwarder(conn, forwardAddress, stats, logInterval), nil
}

func newDatagramForwarder(conn io.WriteCloser, address string, stats ForwardStats, logInterval time.Duration) *DatagramForwarder {
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &DatagramForwarder{
		conn:        conn,
		channel:     make(chan []byte, forwardQueueSize),
		done:        make(chan struct{}),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
	}
}

// Start begins the forwarding goroutine. Send failures are summarised at the
// log interval. Calling Start more than once has no further effect.
func (f *DatagramForwarder) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		go f.run(ctx)
		log.Printf("Forwarding datagrams to %s", f.address)
	})
}

func (f *DatagramForwarder) run(ctx context.Context) {
	failed := 0
	var lastError error
	ticker := time.NewTicker(f.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case datagram := <-f.channel:
			if _, err := f.conn.Write(datagram); err != nil {
				failed++
				lastError = err
				f.addDropped()
			}
		case <-ticker.C:
			if failed > 0 && lastError != nil {
				log.Printf("\033[93mDropped %d forwarded datagrams due to errors (latest: %v)\033[0m", failed, lastError)
				failed = 0
				lastError = nil
			}
		}
	}
}

// ForwardAsync queues a copy of datagram. When the queue is full the datagram
// is dropped rather than blocking the caller.
func (f *DatagramForwarder) ForwardAsync(datagram []byte) {
	select {
	case <-f.done:
		return
	default:
	}

	c := make([]byte, len(datagram))
	copy(c, datagram)

	select {
	case f.channel <- c:
	default:
		f.addDropped()
	}
}

func (f *DatagramForwarder) addDropped() {
	if f.stats != nil {
		f.stats.AddDropped(tactile.DropForward)
	}
}

// Address returns the forwarding destination.
func (f *DatagramForwarder) Address() string { return f.address }

// Close stops forwarding and closes the connection.
func (f *DatagramForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
