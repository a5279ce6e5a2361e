package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/objones25/go-traffic-monitor/pkg/analysis"
	"github.com/objones25/go-traffic-monitor/pkg/capture"
	"github.com/objones25/go-traffic-monitor/pkg/export"
)

var _ Monitor = (*capture.Session)(nil)

// MockMonitor is a mock implementation of Monitor
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Snapshot() []capture.Record {
	args := m.Called()
	return args.Get(0).([]capture.Record)
}

func (m *MockMonitor) TotalPacketCount() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockMonitor) Elapsed() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *MockMonitor) Stats() capture.Stats {
	args := m.Called()
	return args.Get(0).(capture.Stats)
}

func (m *MockMonitor) Running() bool {
	args := m.Called()
	return args.Bool(0)
}

var ts = time.Date(2024, 3, 16, 14, 0, 0, 0, time.UTC)

func testRecords() []capture.Record {
	return []capture.Record{
		{
			Timestamp: ts, RelativeTime: 0.5, Source: "10.0.0.1", Destination: "10.0.0.2",
			Protocol: capture.ProtocolTCP, Size: 60,
			SrcPort: 40000, DstPort: 80, HasPorts: true, TCPFlags: "S", HasTCPFlags: true,
		},
		{
			Timestamp: ts.Add(time.Second), RelativeTime: 1.5, Source: "10.0.0.1", Destination: "8.8.8.8",
			Protocol: capture.ProtocolUDP, Size: 40,
			SrcPort: 40001, DstPort: 53, HasPorts: true,
		},
		{
			Timestamp: ts.Add(time.Second), RelativeTime: 1.6, Source: "10.0.0.3", Destination: "10.0.0.2",
			Protocol: "OTHER(47)", Size: 100,
		},
	}
}

func newMockMonitor(records []capture.Record) *MockMonitor {
	m := new(MockMonitor)
	m.On("Snapshot").Return(records).Maybe()
	m.On("TotalPacketCount").Return(len(records)).Maybe()
	m.On("Elapsed").Return(12500 * time.Millisecond).Maybe()
	m.On("Running").Return(true).Maybe()
	m.On("Stats").Return(capture.Stats{
		Captured: 5,
		Dropped: map[capture.DropReason]uint64{
			capture.ReasonMalformed:      2,
			capture.ReasonNoNetworkLayer: 0,
		},
		Evicted:  2,
		Stored:   len(records),
		Capacity: 10000,
		Running:  true,
	}).Maybe()
	return m
}

func serve(t *testing.T, server *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	server := NewServer(":0", newMockMonitor(testRecords()))

	rec := serve(t, server, "GET", "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthCheckStopped(t *testing.T) {
	monitor := new(MockMonitor)
	monitor.On("Running").Return(false)
	server := NewServer(":0", monitor)

	rec := serve(t, server, "GET", "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"stopped"}`, rec.Body.String())
	monitor.AssertNotCalled(t, "Stats")
}

func TestSizeBinsUpToLimit(t *testing.T) {
	server := NewServer(":0", newMockMonitor(testRecords()))

	rec := serve(t, server, "GET", "/api/sizes?bins=1000")
	require.Equal(t, http.StatusOK, rec.Code)

	var bins []analysis.Bin
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bins))
	assert.Len(t, bins, analysis.MaxSizeBins)
}

func TestCORSPreflight(t *testing.T) {
	server := NewServer(":0", newMockMonitor(nil))

	rec := serve(t, server, "OPTIONS", "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestMetricsSummary(t *testing.T) {
	monitor := newMockMonitor(testRecords())
	server := NewServer(":0", monitor)

	rec := serve(t, server, "GET", "/api/metrics/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary MetricsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.TotalPacketCount)
	assert.InDelta(t, 12.5, summary.CaptureDurationSeconds, 1e-9)
	assert.Equal(t, uint64(5), summary.Captured)
	assert.Equal(t, uint64(2), summary.Dropped[capture.ReasonMalformed])
	assert.True(t, summary.Running)

	monitor.AssertCalled(t, "TotalPacketCount")
	monitor.AssertCalled(t, "Elapsed")
}

func TestAggregationEndpoints(t *testing.T) {
	server := NewServer(":0", newMockMonitor(testRecords()))

	tests := []struct {
		name     string
		target   string
		expected string
	}{
		{"Protocols", "/api/protocols", `{"TCP":1,"UDP":1,"OTHER(47)":1}`},
		{"Top sources", "/api/top/sources", `[{"address":"10.0.0.1","count":2},{"address":"10.0.0.3","count":1}]`},
		{"Top sources limited", "/api/top/sources?k=1", `[{"address":"10.0.0.1","count":2}]`},
		{"Top destinations", "/api/top/destinations?k=1", `[{"address":"10.0.0.2","count":2}]`},
		{"Top pairs", "/api/top/pairs?k=1", `[{"source":"10.0.0.1","destination":"10.0.0.2","count":1}]`},
		{"TCP flags", "/api/tcp-flags", `{"S":1}`},
		{"Sizes", "/api/sizes?bins=2", `[{"lower":40,"upper":70,"count":2},{"lower":70,"upper":100,"count":1}]`},
		{"Timeline", "/api/timeline", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, server, "GET", tt.target)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.name == "Timeline" {
				var timeline []analysis.SecondCount
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &timeline))
				require.Len(t, timeline, 2)
				assert.True(t, timeline[0].Second.Equal(ts))
				assert.Equal(t, 2, timeline[1].Count)
				return
			}
			assert.JSONEq(t, tt.expected, rec.Body.String())
		})
	}
}

func TestInvalidQueryParameters(t *testing.T) {
	server := NewServer(":0", newMockMonitor(testRecords()))

	for _, target := range []string{
		"/api/top/sources?k=abc",
		"/api/top/pairs?k=-1",
		"/api/top/destinations?k=0",
		"/api/sizes?bins=x",
		"/api/sizes?bins=0",
		"/api/sizes?bins=1001",
		"/api/sizes?bins=2000000000",
		"/api/summary?k=?",
		"/api/summary?k=0",
		"/api/summary?bins=0",
		"/api/summary?bins=5000",
	} {
		rec := serve(t, server, "GET", target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec := serve(t, server, "GET", "/api/top/hosts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmptySnapshotEndpoints(t *testing.T) {
	server := NewServer(":0", newMockMonitor([]capture.Record{}))

	assert.JSONEq(t, `{}`, serve(t, server, "GET", "/api/protocols").Body.String())
	assert.JSONEq(t, `[]`, serve(t, server, "GET", "/api/top/sources").Body.String())
	assert.JSONEq(t, `[]`, serve(t, server, "GET", "/api/sizes").Body.String())
	assert.JSONEq(t, `[]`, serve(t, server, "GET", "/api/packets").Body.String())

	var summary analysis.Summary
	require.NoError(t, json.Unmarshal(serve(t, server, "GET", "/api/summary").Body.Bytes(), &summary))
	assert.Zero(t, summary.TotalPackets)
}

func TestSummaryUsesConfiguredOptions(t *testing.T) {
	server := NewServer(":0", newMockMonitor(testRecords()),
		WithAnalysisOptions(analysis.Options{TopK: 1, SizeBins: 3}))

	var summary analysis.Summary
	require.NoError(t, json.Unmarshal(serve(t, server, "GET", "/api/summary").Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.TotalPackets)
	assert.Equal(t, 200, summary.TotalBytes)
	assert.Len(t, summary.TopSources, 1)
	assert.Len(t, summary.SizeHistogram, 3)

	require.NoError(t, json.Unmarshal(serve(t, server, "GET", "/api/summary?k=5&bins=10").Body.Bytes(), &summary))
	assert.Len(t, summary.TopSources, 2)
	assert.Len(t, summary.SizeHistogram, 10)
}

func TestPackets(t *testing.T) {
	server := NewServer(":0", newMockMonitor(testRecords()))

	rec := serve(t, server, "GET", "/api/packets")
	require.Equal(t, http.StatusOK, rec.Code)

	var packets []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &packets))
	require.Len(t, packets, 3)
	assert.Equal(t, "TCP", packets[0]["protocol"])
	assert.Equal(t, float64(40000), packets[0]["srcPort"])
	assert.Equal(t, "S", packets[0]["tcpFlags"])
	assert.Nil(t, packets[1]["tcpFlags"])
	assert.Nil(t, packets[2]["srcPort"])
	assert.Nil(t, packets[2]["dstPort"])
}

func TestExportCSV(t *testing.T) {
	records := testRecords()
	server := NewServer(":0", newMockMonitor(records))

	rec := serve(t, server, "GET", "/api/export.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), export.Filename)

	parsed, err := export.ReadCSV(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, records, parsed)
}

func TestPrometheusMetrics(t *testing.T) {
	server := NewServer(":0", newMockMonitor(testRecords()))
	serve(t, server, "GET", "/api/health")
	serve(t, server, "GET", "/api/top/sources")

	rec := serve(t, server, "GET", "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "traffic_monitor_packets_stored 3")
	assert.Contains(t, body, "traffic_monitor_store_capacity 10000")
	assert.Contains(t, body, "traffic_monitor_capture_duration_seconds 12.5")
	assert.Contains(t, body, "traffic_monitor_packets_captured_total 5")
	assert.Contains(t, body, "traffic_monitor_packets_evicted_total 2")
	assert.Contains(t, body, `traffic_monitor_frames_dropped_total{reason="malformed"} 2`)
	assert.Contains(t, body, "traffic_monitor_capture_running 1")
	assert.Contains(t, body, `traffic_monitor_http_requests_total{endpoint="/api/top/{kind:sources|destinations|pairs}",method="GET"} 1`)
	assert.Contains(t, body, `traffic_monitor_http_requests_total{endpoint="/api/health",method="GET"} 1`)
}

func TestLiveFeed(t *testing.T) {
	server := NewServer(":0", newMockMonitor(testRecords()), WithRefreshInterval(20*time.Millisecond))
	httpServer := httptest.NewServer(server.Router)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var update LiveUpdate
		require.NoError(t, conn.ReadJSON(&update))
		assert.Equal(t, 3, update.Metrics.TotalPacketCount)
		assert.Equal(t, 3, update.Summary.TotalPackets)
		assert.Equal(t, 2, update.Summary.TopSources[0].Count)
	}

	require.NoError(t, server.Stop(context.Background()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
			break
		}
	}
}
