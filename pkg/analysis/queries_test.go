package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

var base = time.Date(2024, 3, 16, 14, 0, 0, 0, time.UTC)

func rec(src, dst string, proto capture.ProtocolLabel, size int, offset time.Duration) capture.Record {
	return capture.Record{
		Timestamp:   base.Add(offset),
		Source:      src,
		Destination: dst,
		Protocol:    proto,
		Size:        size,
	}
}

func tcp(src, dst, flags string, size int) capture.Record {
	r := rec(src, dst, capture.ProtocolTCP, size, 0)
	r.TCPFlags, r.HasTCPFlags = flags, true
	r.SrcPort, r.DstPort, r.HasPorts = 40000, 443, true
	return r
}

func sampleRecords() []capture.Record {
	return []capture.Record{
		rec("10.0.0.1", "10.0.0.2", capture.ProtocolTCP, 60, 100*time.Millisecond),
		rec("10.0.0.3", "8.8.8.8", capture.ProtocolUDP, 40, 200*time.Millisecond),
		rec("10.0.0.1", "8.8.8.8", capture.ProtocolUDP, 80, 1500*time.Millisecond),
		rec("10.0.0.3", "10.0.0.2", capture.ProtocolTCP, 1500, 1600*time.Millisecond),
		rec("10.0.0.1", "10.0.0.2", capture.ProtocolTCP, 60, 3*time.Second),
		rec("10.0.0.4", "10.0.0.2", "OTHER(47)", 100, 3200*time.Millisecond),
	}
}

func TestEmptySnapshotQueries(t *testing.T) {
	var empty []capture.Record

	assert.Empty(t, ProtocolDistribution(empty))
	assert.Empty(t, ProtocolBytes(empty))
	assert.Empty(t, PacketsPerSecond(empty))
	assert.Empty(t, TopSources(empty, 10))
	assert.Empty(t, TopDestinations(empty, 10))
	assert.Empty(t, TopPairs(empty, 10))
	assert.Empty(t, TCPFlagDistribution(empty))
	assert.Nil(t, SizeHistogram(empty, 50))

	summary := Summarize(empty, DefaultOptions())
	assert.Zero(t, summary.TotalPackets)
	assert.Zero(t, summary.TotalBytes)
}

func TestProtocolDistributionSumsToTotal(t *testing.T) {
	records := sampleRecords()
	dist := ProtocolDistribution(records)

	assert.Equal(t, map[capture.ProtocolLabel]int{
		capture.ProtocolTCP: 3,
		capture.ProtocolUDP: 2,
		"OTHER(47)":         1,
	}, dist)

	sum := 0
	for _, n := range dist {
		sum += n
	}
	assert.Equal(t, len(records), sum)
}

func TestProtocolBytes(t *testing.T) {
	assert.Equal(t, map[capture.ProtocolLabel]int{
		capture.ProtocolTCP: 1620,
		capture.ProtocolUDP: 120,
		"OTHER(47)":         100,
	}, ProtocolBytes(sampleRecords()))
}

func TestPacketsPerSecond(t *testing.T) {
	records := sampleRecords()
	// Out of order input still yields a chronological timeline.
	records[0], records[5] = records[5], records[0]

	timeline := PacketsPerSecond(records)
	require.Len(t, timeline, 3)
	assert.True(t, timeline[0].Second.Equal(base))
	assert.Equal(t, 2, timeline[0].Count)
	assert.True(t, timeline[1].Second.Equal(base.Add(time.Second)))
	assert.Equal(t, 2, timeline[1].Count)
	assert.True(t, timeline[2].Second.Equal(base.Add(3*time.Second)))
	assert.Equal(t, 2, timeline[2].Count)
}

func TestTopSources(t *testing.T) {
	records := sampleRecords()

	top := TopSources(records, 10)
	assert.Equal(t, []AddressCount{
		{"10.0.0.1", 3},
		{"10.0.0.3", 2},
		{"10.0.0.4", 1},
	}, top)

	assert.Equal(t, []AddressCount{{"10.0.0.1", 3}}, TopSources(records, 1))
	assert.Empty(t, TopSources(records, 0))
	assert.Empty(t, TopSources(records, -1))
}

func TestTopKBound(t *testing.T) {
	records := sampleRecords()
	occurrences := map[string]int{}
	for _, r := range records {
		occurrences[r.Source]++
	}

	for k := 0; k <= len(records)+1; k++ {
		top := TopSources(records, k)
		assert.LessOrEqual(t, len(top), k)
		for _, entry := range top {
			assert.LessOrEqual(t, entry.Count, occurrences[entry.Address])
		}
	}
}

func TestTopTieBreakFirstSeen(t *testing.T) {
	records := []capture.Record{
		rec("10.0.0.9", "a", capture.ProtocolTCP, 1, 0),
		rec("10.0.0.5", "b", capture.ProtocolTCP, 1, 0),
		rec("10.0.0.7", "c", capture.ProtocolTCP, 1, 0),
		rec("10.0.0.5", "c", capture.ProtocolTCP, 1, 0),
		rec("10.0.0.7", "b", capture.ProtocolTCP, 1, 0),
	}

	assert.Equal(t, []AddressCount{
		{"10.0.0.5", 2},
		{"10.0.0.7", 2},
		{"10.0.0.9", 1},
	}, TopSources(records, 3))

	assert.Equal(t, []AddressCount{
		{"b", 2},
		{"c", 2},
	}, TopDestinations(records, 2))
}

func TestTopDestinations(t *testing.T) {
	assert.Equal(t, []AddressCount{
		{"10.0.0.2", 4},
		{"8.8.8.8", 2},
	}, TopDestinations(sampleRecords(), 10))
}

func TestTopPairs(t *testing.T) {
	pairs := TopPairs(sampleRecords(), 2)
	assert.Equal(t, []PairCount{
		{Source: "10.0.0.1", Destination: "10.0.0.2", Count: 2},
		{Source: "10.0.0.3", Destination: "8.8.8.8", Count: 1},
	}, pairs)
	assert.Empty(t, TopPairs(sampleRecords(), 0))
}

func TestTCPFlagDistribution(t *testing.T) {
	records := []capture.Record{
		tcp("10.0.0.1", "10.0.0.2", "S", 60),
		tcp("10.0.0.2", "10.0.0.1", "SA", 60),
		tcp("10.0.0.1", "10.0.0.2", "A", 52),
		tcp("10.0.0.1", "10.0.0.2", "PA", 200),
		tcp("10.0.0.1", "10.0.0.2", "A", 52),
		rec("10.0.0.1", "8.8.8.8", capture.ProtocolUDP, 40, 0),
	}

	assert.Equal(t, map[string]int{"S": 1, "SA": 1, "A": 2, "PA": 1}, TCPFlagDistribution(records))
}

func TestSizeHistogram(t *testing.T) {
	records := []capture.Record{
		rec("a", "b", capture.ProtocolTCP, 0, 0),
		rec("a", "b", capture.ProtocolTCP, 10, 0),
		rec("a", "b", capture.ProtocolTCP, 49, 0),
		rec("a", "b", capture.ProtocolTCP, 50, 0),
		rec("a", "b", capture.ProtocolTCP, 100, 0),
	}

	histogram := SizeHistogram(records, 4)
	require.Len(t, histogram, 4)
	assert.Equal(t, []Bin{
		{Lower: 0, Upper: 25, Count: 2},
		{Lower: 25, Upper: 50, Count: 1},
		{Lower: 50, Upper: 75, Count: 1},
		{Lower: 75, Upper: 100, Count: 1},
	}, histogram)

	total := 0
	for _, b := range SizeHistogram(sampleRecords(), DefaultSizeBins) {
		total += b.Count
	}
	assert.Equal(t, len(sampleRecords()), total)
	assert.Len(t, SizeHistogram(sampleRecords(), DefaultSizeBins), DefaultSizeBins)
	assert.Nil(t, SizeHistogram(records, 0))
}

func TestSizeHistogramSingleValue(t *testing.T) {
	records := []capture.Record{
		rec("a", "b", capture.ProtocolUDP, 40, 0),
		rec("a", "b", capture.ProtocolUDP, 40, 0),
	}

	histogram := SizeHistogram(records, 2)
	assert.Equal(t, []Bin{
		{Lower: 39.5, Upper: 40, Count: 0},
		{Lower: 40, Upper: 40.5, Count: 2},
	}, histogram)
}

func TestSizeHistogramBinCap(t *testing.T) {
	records := []capture.Record{
		rec("a", "b", capture.ProtocolUDP, 40, 0),
		rec("a", "b", capture.ProtocolUDP, 60, 0),
	}

	histogram := SizeHistogram(records, 2_000_000_000)
	require.Len(t, histogram, MaxSizeBins)
	assert.Equal(t, 40.0, histogram[0].Lower)
	assert.Equal(t, 60.0, histogram[MaxSizeBins-1].Upper)
	assert.Equal(t, 1, histogram[0].Count)
	assert.Equal(t, 1, histogram[MaxSizeBins-1].Count)

	summary := Summarize(records, Options{SizeBins: MaxSizeBins + 1})
	assert.Len(t, summary.SizeHistogram, MaxSizeBins)
}

func TestSummarize(t *testing.T) {
	records := sampleRecords()
	summary := Summarize(records, Options{TopK: 2})

	assert.Equal(t, 6, summary.TotalPackets)
	assert.Equal(t, 1840, summary.TotalBytes)
	assert.Len(t, summary.TopSources, 2)
	assert.Len(t, summary.TopDestinations, 2)
	assert.Len(t, summary.TopPairs, 2)
	assert.Len(t, summary.SizeHistogram, DefaultSizeBins)
	assert.Equal(t, ProtocolDistribution(records), summary.Protocols)
	assert.Len(t, summary.Timeline, 3)
}
