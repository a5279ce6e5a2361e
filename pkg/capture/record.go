package capture

import (
	"strings"
	"time"

	"github.com/google/gopacket/layers"
)

// Record holds the metadata extracted from one captured packet. It is a
// plain value; copies never share state with the store.
type Record struct {
	Timestamp    time.Time
	RelativeTime float64 // seconds since session start
	Source       string
	Destination  string
	Protocol     ProtocolLabel
	Size         int

	SrcPort  uint16
	DstPort  uint16
	HasPorts bool // set for TCP and UDP only

	TCPFlags    string
	HasTCPFlags bool // set for TCP only
}

// Ports returns the transport ports and whether the record carries them.
func (r Record) Ports() (src, dst uint16, ok bool) {
	return r.SrcPort, r.DstPort, r.HasPorts
}

// Flags returns the TCP flag rendering and whether the record carries one.
func (r Record) Flags() (string, bool) {
	return r.TCPFlags, r.HasTCPFlags
}

// tcpFlagString renders set flag bits one letter each, lowest bit first:
// F S R P A U E C N. A SYN/ACK renders as "SA".
func tcpFlagString(tcp *layers.TCP) string {
	var b strings.Builder
	flags := []struct {
		set    bool
		letter byte
	}{
		{tcp.FIN, 'F'},
		{tcp.SYN, 'S'},
		{tcp.RST, 'R'},
		{tcp.PSH, 'P'},
		{tcp.ACK, 'A'},
		{tcp.URG, 'U'},
		{tcp.ECE, 'E'},
		{tcp.CWR, 'C'},
		{tcp.NS, 'N'},
	}
	for _, f := range flags {
		if f.set {
			b.WriteByte(f.letter)
		}
	}
	return b.String()
}
