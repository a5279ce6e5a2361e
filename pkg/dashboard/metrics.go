package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "traffic_monitor"

// monitorCollector exports session counters at scrape time
type monitorCollector struct {
	monitor Monitor

	stored   *prometheus.Desc
	capacity *prometheus.Desc
	duration *prometheus.Desc
	captured *prometheus.Desc
	evicted  *prometheus.Desc
	dropped  *prometheus.Desc
	running  *prometheus.Desc
	srcRecv  *prometheus.Desc
	srcDrop  *prometheus.Desc
}

func newMonitorCollector(monitor Monitor) *monitorCollector {
	return &monitorCollector{
		monitor: monitor,
		stored: prometheus.NewDesc(namespace+"_packets_stored",
			"Records currently held in the capture store", nil, nil),
		capacity: prometheus.NewDesc(namespace+"_store_capacity",
			"Maximum records held in the capture store", nil, nil),
		duration: prometheus.NewDesc(namespace+"_capture_duration_seconds",
			"Time since capture started", nil, nil),
		captured: prometheus.NewDesc(namespace+"_packets_captured_total",
			"Records appended since capture started", nil, nil),
		evicted: prometheus.NewDesc(namespace+"_packets_evicted_total",
			"Records evicted from the capture store", nil, nil),
		dropped: prometheus.NewDesc(namespace+"_frames_dropped_total",
			"Frames dropped during extraction", []string{"reason"}, nil),
		running: prometheus.NewDesc(namespace+"_capture_running",
			"Whether the capture session is running", nil, nil),
		srcRecv: prometheus.NewDesc(namespace+"_source_packets_received",
			"Packets received by the capture mechanism", nil, nil),
		srcDrop: prometheus.NewDesc(namespace+"_source_packets_dropped",
			"Packets dropped by the capture mechanism", nil, nil),
	}
}

func (c *monitorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stored
	ch <- c.capacity
	ch <- c.duration
	ch <- c.captured
	ch <- c.evicted
	ch <- c.dropped
	ch <- c.running
	ch <- c.srcRecv
	ch <- c.srcDrop
}

func (c *monitorCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.monitor.Stats()

	running := 0.0
	if stats.Running {
		running = 1
	}

	ch <- prometheus.MustNewConstMetric(c.stored, prometheus.GaugeValue, float64(c.monitor.TotalPacketCount()))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(stats.Capacity))
	ch <- prometheus.MustNewConstMetric(c.duration, prometheus.GaugeValue, c.monitor.Elapsed().Seconds())
	ch <- prometheus.MustNewConstMetric(c.captured, prometheus.CounterValue, float64(stats.Captured))
	ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(stats.Evicted))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	for reason, n := range stats.Dropped {
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(n), string(reason))
	}
	if stats.Source != nil {
		ch <- prometheus.MustNewConstMetric(c.srcRecv, prometheus.GaugeValue, float64(stats.Source.Received))
		ch <- prometheus.MustNewConstMetric(c.srcDrop, prometheus.GaugeValue, float64(stats.Source.Dropped))
	}
}
