package analysis

import (
	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

// Options sets the parameters of Summarize.
type Options struct {
	TopK     int
	SizeBins int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{TopK: DefaultTopK, SizeBins: DefaultSizeBins}
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.SizeBins <= 0 {
		o.SizeBins = DefaultSizeBins
	}
	return o
}

// Summary bundles every aggregation over one snapshot.
type Summary struct {
	TotalPackets    int                           `json:"totalPackets"`
	TotalBytes      int                           `json:"totalBytes"`
	Protocols       map[capture.ProtocolLabel]int `json:"protocols"`
	ProtocolBytes   map[capture.ProtocolLabel]int `json:"protocolBytes"`
	Timeline        []SecondCount                 `json:"timeline"`
	TopSources      []AddressCount                `json:"topSources"`
	TopDestinations []AddressCount                `json:"topDestinations"`
	TopPairs        []PairCount                   `json:"topPairs"`
	TCPFlags        map[string]int                `json:"tcpFlags"`
	SizeHistogram   []Bin                         `json:"sizeHistogram"`
}

// Summarize computes all views over records. Non-positive options fall
// back to the defaults.
func Summarize(records []capture.Record, opts Options) Summary {
	opts = opts.withDefaults()

	total := 0
	for _, r := range records {
		total += r.Size
	}

	return Summary{
		TotalPackets:    len(records),
		TotalBytes:      total,
		Protocols:       ProtocolDistribution(records),
		ProtocolBytes:   ProtocolBytes(records),
		Timeline:        PacketsPerSecond(records),
		TopSources:      TopSources(records, opts.TopK),
		TopDestinations: TopDestinations(records, opts.TopK),
		TopPairs:        TopPairs(records, opts.TopK),
		TCPFlags:        TCPFlagDistribution(records),
		SizeHistogram:   SizeHistogram(records, opts.SizeBins),
	}
}
