// Command tac3d-sim emulates a Tac3D sensor: it streams fragmented frames to a
// receiver and reacts to the calibrate and quit control datagrams.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/tac3d.report/internal/tactile/l1datagrams"
	"github.com/banshee-data/tac3d.report/internal/tactile/session"
)

func main() {
	target := flag.String("target", "127.0.0.1:9988", "Receiver UDP address")
	sn := flag.String("sn", "HDL1-SIM0001", "Sensor serial number")
	fps := flag.Float64("fps", 30, "Frames per second")
	frames := flag.Int("n", 0, "Number of frames to send (0 = until stopped)")
	warmup := flag.Int("warmup", 60, "Frames before InitializeProgress reaches 100")
	datagramSize := flag.Int("datagram-size", l1datagrams.DefaultMaxDatagramSize, "Maximum datagram size in bytes")
	byteOrder := flag.String("byte-order", "native", "Byte order: native, little or big")
	flag.Parse()

	order, err := l1datagrams.ParseByteOrder(*byteOrder)
	if err != nil {
		log.Fatalf("Invalid -byte-order: %v", err)
	}
	if *fps <= 0 {
		log.Fatalf("-fps must be positive, got %g", *fps)
	}

	raddr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatalf("Failed to resolve %s: %v", *target, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Failed to open UDP socket: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sensor := newSimSensor(*sn, order, *warmup)
	frag := &l1datagrams.Fragmenter{MaxDatagramSize: *datagramSize, Order: order}

	go readControl(ctx, conn, sensor, stop)

	log.Printf("Simulating %s (%s %dx%d) -> %s at %.1f fps", *sn, sensor.model.Name, sensor.model.Rows, sensor.model.Cols, raddr, *fps)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *fps))
	defer ticker.Stop()
	start := time.Now()
	var serial uint32
	for sent := 0; *frames == 0 || sent < *frames; sent++ {
		header, data, err := sensor.NextFrame(time.Since(start).Seconds())
		if err != nil {
			log.Fatalf("Failed to build frame: %v", err)
		}
		datagrams, err := frag.Fragment(serial, header, data)
		if err != nil {
			log.Fatalf("Failed to fragment frame: %v", err)
		}
		serial++
		for _, d := range datagrams {
			if _, err := conn.Write(d); err != nil {
				log.Printf("Send failed: %v", err)
				break
			}
		}
		if sent == 0 {
			log.Printf("Frame size: %d header bytes, %d data bytes, %d datagrams", len(header), len(data), len(datagrams))
		}
		if (sent+1)%int(max(*fps*10, 1)) == 0 {
			log.Printf("%d frames sent", sent+1)
		}

		select {
		case <-ctx.Done():
			log.Printf("Stopped after %d frames", sent+1)
			return
		case <-ticker.C:
		}
	}
	log.Printf("Sent %d frames", *frames)
}

// readControl applies control datagrams from the receiver until ctx ends.
func readControl(ctx context.Context, conn *net.UDPConn, sensor *simSensor, quit func()) {
	buf := make([]byte, 64)
	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP port unreachable surfaces here while no receiver is up.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		switch cmd := bytes.TrimRight(buf[:n], "\x00\r\n"); {
		case bytes.Equal(cmd, session.CalibrateCommand):
			log.Printf("Calibrate requested: zeroing displacement baseline")
			sensor.Calibrate()
		case bytes.Equal(cmd, session.QuitCommand):
			log.Printf("Quit requested")
			quit()
			return
		default:
			log.Printf("Ignoring unknown control datagram %q", cmd)
		}
	}
}
