package capture

import "strconv"

// ProtocolLabel is the human readable name of a transport protocol number.
type ProtocolLabel string

const (
	ProtocolICMP ProtocolLabel = "ICMP"
	ProtocolTCP  ProtocolLabel = "TCP"
	ProtocolUDP  ProtocolLabel = "UDP"
)

var protocolNames = map[int]ProtocolLabel{
	1:  ProtocolICMP,
	6:  ProtocolTCP,
	17: ProtocolUDP,
}

// Classify maps an IP protocol number to its label. Unrecognized numbers
// map to OTHER(n) so the raw value survives for display.
func Classify(protocolNumber int) ProtocolLabel {
	if label, ok := protocolNames[protocolNumber]; ok {
		return label
	}
	return ProtocolLabel("OTHER(" + strconv.Itoa(protocolNumber) + ")")
}

// IsOther reports whether the label is an OTHER(n) fallback.
func (p ProtocolLabel) IsOther() bool {
	switch p {
	case ProtocolICMP, ProtocolTCP, ProtocolUDP:
		return false
	}
	return true
}

func (p ProtocolLabel) String() string {
	return string(p)
}
