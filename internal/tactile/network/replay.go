package network

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets   int // packets read from the source
	Datagrams int // UDP payloads handed to the handler
	Elapsed   time.Duration
}

// ReplayPackets feeds the UDP payloads in src addressed to udpPort into handler,
// with the sender address taken from the IP and UDP layers. A udpPort of zero
// accepts every UDP packet. Packets are replayed as fast as they can be
// handled; capture timing is not reproduced.
func ReplayPackets(ctx context.Context, src *gopacket.PacketSource, udpPort int, handler DatagramHandler) (ReplayStats, error) {
	var rs ReplayStats
	start := time.Now()
	packets := src.Packets()

	for {
		select {
		case <-ctx.Done():
			rs.Elapsed = time.Since(start)
			log.Printf("Replay stopping due to context cancellation (processed %d packets)", rs.Packets)
			return rs, ctx.Err()
		case packet, ok := <-packets:
			if !ok || packet == nil {
				rs.Elapsed = time.Since(start)
				return rs, nil
			}
			rs.Packets++

			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok {
				continue
			}
			if udpPort != 0 && int(udp.DstPort) != udpPort {
				continue
			}
			if len(udp.Payload) == 0 {
				continue
			}

			rs.Datagrams++
			handler.HandleDatagram(udp.Payload, sourceAddr(packet, udp))

			if rs.Packets%10000 == 0 {
				elapsed := time.Since(start)
				log.Printf("Replay progress: %d packets processed in %v (%.0f pkt/s)",
					rs.Packets, elapsed, float64(rs.Packets)/elapsed.Seconds())
			}
		}
	}
}

func sourceAddr(packet gopacket.Packet, udp *layers.UDP) *net.UDPAddr {
	addr := &net.UDPAddr{Port: int(udp.SrcPort)}
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		addr.IP = ip.SrcIP
	case *layers.IPv6:
		addr.IP = ip.SrcIP
	}
	return addr
}
