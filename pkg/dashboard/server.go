package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/objones25/go-traffic-monitor/pkg/analysis"
	"github.com/objones25/go-traffic-monitor/pkg/export"
)

const (
	defaultRefreshInterval = 5 * time.Second
	liveWriteTimeout       = 10 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithAnalysisOptions sets the default top-k and histogram bin count.
func WithAnalysisOptions(opts analysis.Options) Option {
	return func(s *Server) {
		s.options = opts
	}
}

// WithRefreshInterval sets how often the live feed pushes updates.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.refresh = d
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server represents the dashboard HTTP server
type Server struct {
	Router  *mux.Router
	server  *http.Server
	addr    string
	monitor Monitor
	options analysis.Options
	refresh time.Duration
	logger  zerolog.Logger

	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	liveConnections prometheus.Gauge
	upgrader        websocket.Upgrader

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new dashboard server reading from monitor
func NewServer(addr string, monitor Monitor, opts ...Option) *Server {
	s := &Server{
		Router:   mux.NewRouter(),
		addr:     addr,
		monitor:  monitor,
		options:  analysis.DefaultOptions(),
		refresh:  defaultRefreshInterval,
		logger:   zerolog.Nop(),
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint"},
		),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Open live feed connections",
		}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(
		s.requestsTotal,
		s.liveConnections,
		newMonitorCollector(monitor),
		collectors.NewGoCollector(),
	)
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Registry returns the registry backing /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) setupRoutes() {
	s.Router.Use(s.corsMiddleware)
	s.Router.Use(s.metricsMiddleware)

	api := s.Router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods("GET", "OPTIONS")

	// Capture metrics and aggregations
	api.HandleFunc("/metrics/summary", s.handleMetricsSummary).Methods("GET")
	api.HandleFunc("/summary", s.handleSummary).Methods("GET")
	api.HandleFunc("/protocols", s.handleProtocols).Methods("GET")
	api.HandleFunc("/timeline", s.handleTimeline).Methods("GET")
	api.HandleFunc("/top/{kind:sources|destinations|pairs}", s.handleTop).Methods("GET")
	api.HandleFunc("/tcp-flags", s.handleTCPFlags).Methods("GET")
	api.HandleFunc("/sizes", s.handleSizes).Methods("GET")

	// Raw records
	api.HandleFunc("/packets", s.handlePackets).Methods("GET")
	api.HandleFunc("/export.csv", s.handleExportCSV).Methods("GET")

	api.HandleFunc("/live", s.handleLive).Methods("GET")

	s.Router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, newMetricsSummary(s.monitor))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	opts := s.options
	var ok bool
	if opts.TopK, ok = s.intParam(w, r, "k", opts.TopK, 0); !ok {
		return
	}
	if opts.SizeBins, ok = s.intParam(w, r, "bins", opts.SizeBins, analysis.MaxSizeBins); !ok {
		return
	}
	s.writeJSON(w, analysis.Summarize(s.monitor.Snapshot(), opts))
}

func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, analysis.ProtocolDistribution(s.monitor.Snapshot()))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, analysis.PacketsPerSecond(s.monitor.Snapshot()))
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	k, ok := s.intParam(w, r, "k", s.options.TopK, 0)
	if !ok {
		return
	}

	snapshot := s.monitor.Snapshot()
	switch mux.Vars(r)["kind"] {
	case "sources":
		s.writeJSON(w, analysis.TopSources(snapshot, k))
	case "destinations":
		s.writeJSON(w, analysis.TopDestinations(snapshot, k))
	case "pairs":
		s.writeJSON(w, analysis.TopPairs(snapshot, k))
	}
}

func (s *Server) handleTCPFlags(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, analysis.TCPFlagDistribution(s.monitor.Snapshot()))
}

func (s *Server) handleSizes(w http.ResponseWriter, r *http.Request) {
	bins, ok := s.intParam(w, r, "bins", s.options.SizeBins, analysis.MaxSizeBins)
	if !ok {
		return
	}
	histogram := analysis.SizeHistogram(s.monitor.Snapshot(), bins)
	if histogram == nil {
		histogram = []analysis.Bin{}
	}
	s.writeJSON(w, histogram)
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	snapshot := s.monitor.Snapshot()
	views := make([]PacketView, len(snapshot))
	for i, record := range snapshot {
		views[i] = newPacketView(record)
	}
	s.writeJSON(w, views)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	if err := export.WriteCSV(w, s.monitor.Snapshot()); err != nil {
		s.logger.Error().Err(err).Msg("csv export failed")
	}
}

// handleLive pushes a LiveUpdate immediately and then on every refresh tick
// until the client disconnects or the server stops.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("live upgrade failed")
		return
	}
	defer conn.Close()

	s.liveConnections.Inc()
	defer s.liveConnections.Dec()

	// Drain client frames so close messages are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		update := LiveUpdate{
			Metrics: newMetricsSummary(s.monitor),
			Summary: analysis.Summarize(s.monitor.Snapshot(), s.options),
		}
		conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		return conn.WriteJSON(update)
	}

	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := send(); err != nil {
				s.logger.Debug().Err(err).Msg("live write failed")
				return
			}
		}
	}
}

// intParam reads a positive integer query parameter, writing 400 when it is
// malformed, below 1 or above limit. A limit of 0 means no upper bound.
func (s *Server) intParam(w http.ResponseWriter, r *http.Request, name string, def, limit int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || (limit > 0 && n > limit) {
		msg := "Invalid " + name + " parameter: must be a positive integer"
		if limit > 0 {
			msg += " up to " + strconv.Itoa(limit)
		}
		http.Error(w, msg, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("error encoding response")
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		s.requestsTotal.WithLabelValues(r.Method, endpoint).Inc()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.monitor.Running() {
		status = "stopped"
	}
	s.writeJSON(w, map[string]string{"status": status})
}

// Start serves until Stop; it returns http.ErrServerClosed after a clean stop.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("dashboard listening")
	return s.server.ListenAndServe()
}

// Stop shuts the server down and closes live feeds.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	return s.server.Shutdown(ctx)
}
