// Package capturetest provides synthetic frames and an in-memory capture
// source for tests of packages built on capture.
package capturetest

import (
	"net"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// TCPFrame builds an Ethernet/IP/TCP frame. flags uses the letters
// F S R P A U E C N. A positive size overrides the wire length reported in
// the packet metadata.
func TCPFrame(src, dst string, srcPort, dstPort uint16, flags string, size int) gopacket.Packet {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1,
		Window:  1024,
		FIN:     strings.ContainsRune(flags, 'F'),
		SYN:     strings.ContainsRune(flags, 'S'),
		RST:     strings.ContainsRune(flags, 'R'),
		PSH:     strings.ContainsRune(flags, 'P'),
		ACK:     strings.ContainsRune(flags, 'A'),
		URG:     strings.ContainsRune(flags, 'U'),
		ECE:     strings.ContainsRune(flags, 'E'),
		CWR:     strings.ContainsRune(flags, 'C'),
		NS:      strings.ContainsRune(flags, 'N'),
	}
	return ipFrame(src, dst, layers.IPProtocolTCP, size, tcp)
}

// UDPFrame builds an Ethernet/IP/UDP frame.
func UDPFrame(src, dst string, srcPort, dstPort uint16, size int) gopacket.Packet {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	return ipFrame(src, dst, layers.IPProtocolUDP, size, udp)
}

// IPFrame builds an Ethernet/IP frame carrying an opaque payload under the
// given protocol number.
func IPFrame(src, dst string, protocol layers.IPProtocol, size int) gopacket.Packet {
	return ipFrame(src, dst, protocol, size, gopacket.Payload(make([]byte, 8)))
}

// ARPFrame builds an Ethernet frame without a network layer.
func ARPFrame() gopacket.Packet {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: net.IPv4(10, 0, 0, 1).To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    net.IPv4(10, 0, 0, 2).To4(),
	}
	return serialize(0, eth, arp)
}

// TruncatedTCPFrame builds an IPv4 frame announcing TCP whose transport
// header is cut short.
func TruncatedTCPFrame(src, dst string) gopacket.Packet {
	return truncatedFrame(src, dst, layers.IPProtocolTCP)
}

// TruncatedUDPFrame builds an IPv4 frame announcing UDP whose transport
// header is cut short.
func TruncatedUDPFrame(src, dst string) gopacket.Packet {
	return truncatedFrame(src, dst, layers.IPProtocolUDP)
}

func truncatedFrame(src, dst string, protocol layers.IPProtocol) gopacket.Packet {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: protocol,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	return serialize(0, eth, ip, gopacket.Payload([]byte{0x00, 0x50, 0x01}))
}

func ipFrame(src, dst string, protocol layers.IPProtocol, size int, transport gopacket.SerializableLayer) gopacket.Packet {
	srcIP, dstIP := net.ParseIP(src), net.ParseIP(dst)

	var network gopacket.SerializableLayer
	var ethType layers.EthernetType
	if srcIP.To4() != nil {
		ethType = layers.EthernetTypeIPv4
		network = &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: protocol,
			SrcIP:    srcIP.To4(),
			DstIP:    dstIP.To4(),
		}
	} else {
		ethType = layers.EthernetTypeIPv6
		network = &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: protocol,
			SrcIP:      srcIP,
			DstIP:      dstIP,
		}
	}

	if nl, ok := network.(gopacket.NetworkLayer); ok {
		switch t := transport.(type) {
		case *layers.TCP:
			t.SetNetworkLayerForChecksum(nl)
		case *layers.UDP:
			t.SetNetworkLayerForChecksum(nl)
		}
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: ethType}
	return serialize(size, eth, network, transport)
}

func serialize(size int, stack ...gopacket.SerializableLayer) gopacket.Packet {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		panic(err)
	}

	data := buf.Bytes()
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	md := packet.Metadata()
	md.Timestamp = time.Now()
	md.CaptureLength = len(data)
	md.Length = len(data)
	if size > 0 {
		md.Length = size
	}
	return packet
}
