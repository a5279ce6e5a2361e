// Package analysis computes read-only views over a snapshot of captured
// records. Every function is pure: it never touches the live store and an
// empty snapshot yields an empty result.
package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

const (
	DefaultTopK     = 10
	DefaultSizeBins = 50
	// MaxSizeBins bounds the histogram allocation regardless of the request.
	MaxSizeBins = 1000
)

// SecondCount is the number of packets captured within one wall clock second.
type SecondCount struct {
	Second time.Time `json:"second"`
	Count  int       `json:"count"`
}

// AddressCount is an address with its occurrence count.
type AddressCount struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
}

// PairCount is a source/destination pair with its occurrence count.
type PairCount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Count       int    `json:"count"`
}

// Bin is one equal-width bucket of a size histogram. Lower is inclusive;
// Upper is exclusive except for the last bin.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// ProtocolDistribution counts records per protocol label.
func ProtocolDistribution(records []capture.Record) map[capture.ProtocolLabel]int {
	dist := make(map[capture.ProtocolLabel]int)
	for _, r := range records {
		dist[r.Protocol]++
	}
	return dist
}

// ProtocolBytes sums record sizes per protocol label.
func ProtocolBytes(records []capture.Record) map[capture.ProtocolLabel]int {
	bytes := make(map[capture.ProtocolLabel]int)
	for _, r := range records {
		bytes[r.Protocol] += r.Size
	}
	return bytes
}

// PacketsPerSecond groups records by timestamp truncated to the second, in
// chronological order.
func PacketsPerSecond(records []capture.Record) []SecondCount {
	counts := make(map[int64]int)
	for _, r := range records {
		counts[r.Timestamp.Truncate(time.Second).UnixNano()]++
	}

	timeline := make([]SecondCount, 0, len(counts))
	for ns, count := range counts {
		timeline = append(timeline, SecondCount{Second: time.Unix(0, ns), Count: count})
	}
	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Second.Before(timeline[j].Second)
	})
	return timeline
}

// TopSources returns the k most frequent source addresses.
func TopSources(records []capture.Record, k int) []AddressCount {
	return topAddresses(records, k, func(r capture.Record) string { return r.Source })
}

// TopDestinations returns the k most frequent destination addresses.
func TopDestinations(records []capture.Record, k int) []AddressCount {
	return topAddresses(records, k, func(r capture.Record) string { return r.Destination })
}

func topAddresses(records []capture.Record, k int, key func(capture.Record) string) []AddressCount {
	if k <= 0 {
		return []AddressCount{}
	}

	index := make(map[string]int)
	counts := make([]AddressCount, 0)
	for _, r := range records {
		addr := key(r)
		i, ok := index[addr]
		if !ok {
			i = len(counts)
			index[addr] = i
			counts = append(counts, AddressCount{Address: addr})
		}
		counts[i].Count++
	}

	// Stable sort keeps first-seen order among equal counts.
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts[:min(k, len(counts))]
}

// TopPairs returns the k most frequent source/destination pairs.
func TopPairs(records []capture.Record, k int) []PairCount {
	if k <= 0 {
		return []PairCount{}
	}

	type pair struct{ src, dst string }
	index := make(map[pair]int)
	counts := make([]PairCount, 0)
	for _, r := range records {
		p := pair{r.Source, r.Destination}
		i, ok := index[p]
		if !ok {
			i = len(counts)
			index[p] = i
			counts = append(counts, PairCount{Source: r.Source, Destination: r.Destination})
		}
		counts[i].Count++
	}

	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts[:min(k, len(counts))]
}

// TCPFlagDistribution counts flag renderings over records that carry TCP
// flags.
func TCPFlagDistribution(records []capture.Record) map[string]int {
	dist := make(map[string]int)
	for _, r := range records {
		if flags, ok := r.Flags(); ok {
			dist[flags]++
		}
	}
	return dist
}

// SizeHistogram splits the observed size range into bins equal-width
// buckets, at most MaxSizeBins. A single distinct size is centred in a
// unit-wide range.
func SizeHistogram(records []capture.Record, bins int) []Bin {
	if len(records) == 0 || bins <= 0 {
		return nil
	}
	bins = min(bins, MaxSizeBins)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range records {
		size := float64(r.Size)
		lo = math.Min(lo, size)
		hi = math.Max(hi, size)
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	width := (hi - lo) / float64(bins)
	histogram := make([]Bin, bins)
	for i := range histogram {
		histogram[i].Lower = lo + float64(i)*width
		histogram[i].Upper = lo + float64(i+1)*width
	}
	histogram[bins-1].Upper = hi

	for _, r := range records {
		i := int((float64(r.Size) - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		if i < 0 {
			i = 0
		}
		histogram[i].Count++
	}
	return histogram
}
