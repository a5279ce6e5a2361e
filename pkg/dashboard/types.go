package dashboard

import (
	"time"

	"github.com/objones25/go-traffic-monitor/pkg/analysis"
	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

// Monitor is the capture session surface the dashboard reads from.
type Monitor interface {
	Snapshot() []capture.Record
	TotalPacketCount() int
	Elapsed() time.Duration
	Stats() capture.Stats
	Running() bool
}

// MetricsSummary represents the headline capture metrics
type MetricsSummary struct {
	TotalPacketCount       int                           `json:"totalPacketCount"`
	CaptureDurationSeconds float64                       `json:"captureDurationSeconds"`
	Captured               uint64                        `json:"captured"`
	Dropped                map[capture.DropReason]uint64 `json:"dropped"`
	Evicted                uint64                        `json:"evicted"`
	Capacity               int                           `json:"capacity"`
	Running                bool                          `json:"running"`
}

// PacketView is the JSON form of a captured record
type PacketView struct {
	Timestamp    time.Time `json:"timestamp"`
	RelativeTime float64   `json:"timeRelative"`
	Source       string    `json:"source"`
	Destination  string    `json:"destination"`
	Protocol     string    `json:"protocol"`
	Size         int       `json:"size"`
	SrcPort      *uint16   `json:"srcPort"`
	DstPort      *uint16   `json:"dstPort"`
	TCPFlags     *string   `json:"tcpFlags"`
}

// LiveUpdate is one message of the live feed
type LiveUpdate struct {
	Metrics MetricsSummary   `json:"metrics"`
	Summary analysis.Summary `json:"summary"`
}

func newPacketView(r capture.Record) PacketView {
	view := PacketView{
		Timestamp:    r.Timestamp,
		RelativeTime: r.RelativeTime,
		Source:       r.Source,
		Destination:  r.Destination,
		Protocol:     string(r.Protocol),
		Size:         r.Size,
	}
	if src, dst, ok := r.Ports(); ok {
		view.SrcPort, view.DstPort = &src, &dst
	}
	if flags, ok := r.Flags(); ok {
		view.TCPFlags = &flags
	}
	return view
}

func newMetricsSummary(m Monitor) MetricsSummary {
	stats := m.Stats()
	return MetricsSummary{
		TotalPacketCount:       m.TotalPacketCount(),
		CaptureDurationSeconds: m.Elapsed().Seconds(),
		Captured:               stats.Captured,
		Dropped:                stats.Dropped,
		Evicted:                stats.Evicted,
		Capacity:               stats.Capacity,
		Running:                stats.Running,
	}
}
