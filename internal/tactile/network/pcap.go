//go:build pcap
// +build pcap

package network

import (
	"context"
	"fmt"
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// ReadPCAPFile replays the sensor datagrams captured in pcapFile through
// handler, as if they had arrived on the live socket. stats, when set, is
// logged once the file has been read.
// This function is only available when building with the 'pcap' build tag.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler DatagramHandler, stats StatsLogger) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}
	log.Printf("PCAP BPF filter set: %s", filterStr)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	rs, err := ReplayPackets(ctx, source, udpPort, handler)
	if err != nil {
		return err
	}
	log.Printf("PCAP file reading complete: %d packets, %d datagrams in %v", rs.Packets, rs.Datagrams, rs.Elapsed)
	if stats != nil {
		stats.LogStats()
	}
	return nil
}
