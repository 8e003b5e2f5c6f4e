//go:build pcap
// +build pcap

// Command trace-replay replays NMEA-over-UDP traffic from a PCAP
// capture against a running navmiles daemon, preserving the original
// packet timing. Useful for reproducing drives on the bench.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

var (
	pcapFile = flag.String("pcap", "", "PCAP file to replay")
	srcPort  = flag.Int("port", 10110, "UDP port the capture was recorded on")
	dest     = flag.String("dest", "127.0.0.1:10110", "Destination address for replayed packets")
	rate     = flag.Float64("rate", 1.0, "Playback speed multiplier (2 = twice as fast)")
)

func main() {
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("A PCAP file is required (-pcap)")
	}
	if *rate <= 0 {
		log.Fatal("Playback rate must be positive")
	}

	handle, err := pcap.OpenOffline(*pcapFile)
	if err != nil {
		log.Fatalf("Failed to open PCAP file: %v", err)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter(fmt.Sprintf("udp port %d", *srcPort)); err != nil {
		log.Fatalf("Failed to set BPF filter: %v", err)
	}

	conn, err := net.Dial("udp", *dest)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", *dest, err)
	}
	defer conn.Close()

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	var (
		sent      int
		prevStamp time.Time
	)
	start := time.Now()

	for packet := range packetSource.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}

		// Sleep out the capture's inter-packet gap, scaled by rate.
		stamp := packet.Metadata().Timestamp
		if !prevStamp.IsZero() && stamp.After(prevStamp) {
			time.Sleep(time.Duration(float64(stamp.Sub(prevStamp)) / *rate))
		}
		prevStamp = stamp

		if _, err := conn.Write(udp.Payload); err != nil {
			log.Fatalf("Failed to send packet %d: %v", sent+1, err)
		}
		sent++
	}

	log.Printf("Replayed %d packets in %v", sent, time.Since(start).Round(time.Millisecond))
}
