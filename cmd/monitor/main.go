package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/objones25/go-traffic-monitor/pkg/analysis"
	"github.com/objones25/go-traffic-monitor/pkg/capture"
	"github.com/objones25/go-traffic-monitor/pkg/config"
	"github.com/objones25/go-traffic-monitor/pkg/dashboard"
	"github.com/objones25/go-traffic-monitor/pkg/observability"
	"github.com/objones25/go-traffic-monitor/pkg/tui"
)

func checkRoot(logger zerolog.Logger) {
	currentUser, err := user.Current()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to get current user")
	}
	if currentUser.Uid != "0" {
		logger.Fatal().Msg("this program requires root privileges, please run with sudo")
	}
}

func openLogOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stderr}, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// reportStats logs a one-line capture summary every interval until ctx ends.
func reportStats(ctx context.Context, session *capture.Session, interval time.Duration, opts analysis.Options, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := session.Stats()
			summary := analysis.Summarize(session.Snapshot(), opts)
			event := logger.Info().
				Int("stored", stats.Stored).
				Uint64("captured", stats.Captured).
				Uint64("dropped", stats.TotalDropped()).
				Uint64("evicted", stats.Evicted).
				Int("bytes", summary.TotalBytes).
				Dur("elapsed", session.Elapsed())
			for label, n := range summary.Protocols {
				event = event.Int("proto_"+string(label), n)
			}
			if len(summary.TopSources) > 0 {
				event = event.Str("top_source", summary.TopSources[0].Address)
			}
			event.Msg("capture stats")
		}
	}
}

func main() {
	configFile := flag.String("config", "config/monitor.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to environment file")
	iface := flag.String("interface", "", "Network interface to capture on (overrides config)")
	flag.Parse()

	bootstrap := observability.NewLogger("info", nil)

	if err := config.LoadEnvFile(*envFile); err != nil {
		bootstrap.Warn().Err(err).Msg("could not load environment file")
	}

	if *iface != "" {
		os.Setenv("MONITOR_INTERFACE", *iface)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		bootstrap.Fatal().Err(err).Str("path", *configFile).Msg("failed to load configuration")
	}

	logOutput, err := openLogOutput(cfg.LogPath())
	if err != nil {
		bootstrap.Fatal().Err(err).Str("path", cfg.LogPath()).Msg("failed to open log file")
	}
	defer logOutput.Close()

	logger := observability.NewLogger(cfg.Agent.LogLevel, logOutput).
		With().Str("agent", cfg.Agent.Name).Logger()

	checkRoot(logger)

	logger.Info().Str("interface", cfg.Agent.Interface).Msg("starting network traffic monitor")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	captureConfig := cfg.CaptureConfig()
	session, err := capture.NewSession(captureConfig, capture.NewPCAPSource(captureConfig),
		capture.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create capture session")
	}

	components := []struct {
		name    string
		start   func(context.Context) error
		stop    func() error
		timeout time.Duration
	}{
		{"Packet Capture", session.Start, session.Stop, 10 * time.Second},
	}

	for _, comp := range components {
		if err := comp.start(ctx); err != nil {
			logger.Fatal().Err(err).Str("component", comp.name).Msg("failed to start component")
		}
		logger.Info().Str("component", comp.name).Msg("started")
	}

	var dashboardServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashboardServer = dashboard.NewServer(cfg.DashboardAddr(), session,
			dashboard.WithAnalysisOptions(cfg.AnalysisOptions()),
			dashboard.WithRefreshInterval(cfg.DashboardRefresh()),
			dashboard.WithLogger(observability.Component(logger, "dashboard")),
		)
		go func() {
			if err := dashboardServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("dashboard server error")
				cancel()
			}
		}()
	}

	if cfg.UI.Mode == config.UIModeTUI {
		// The session ending (capture failure) also ends the view.
		uiCtx, uiCancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-session.Done():
				uiCancel()
			case <-uiCtx.Done():
			}
		}()
		err := tui.Run(uiCtx, session, tui.Config{
			Interface: cfg.Agent.Interface,
			Refresh:   cfg.UIRefresh(),
			Analysis:  cfg.AnalysisOptions(),
			OutputDir: ".",
		})
		uiCancel()
		if err != nil {
			logger.Error().Err(err).Msg("terminal view error")
		}
	} else {
		fmt.Printf("\nNetwork Traffic Monitor Started\n")
		fmt.Printf("===============================\n")
		fmt.Printf("Name:             %s\n", cfg.Agent.Name)
		fmt.Printf("Interface:        %s\n", cfg.Agent.Interface)
		fmt.Printf("Filter:           %s\n", captureConfig.BPFFilter)
		fmt.Printf("Capacity:         %d packets\n", session.Stats().Capacity)
		if dashboardServer != nil {
			fmt.Printf("Dashboard:        http://localhost:%d\n", cfg.Dashboard.Port)
		}
		fmt.Printf("Press Ctrl+C to stop\n\n")

		go reportStats(ctx, session, cfg.UIRefresh(), cfg.AnalysisOptions(),
			observability.Component(logger, "report"))

		select {
		case <-ctx.Done():
		case <-session.Done():
		}
	}

	logger.Info().Msg("shutting down")
	cancel()

	// Stop components in reverse order
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]
		stopCtx, stopCancel := context.WithTimeout(context.Background(), comp.timeout)

		stopChan := make(chan error, 1)
		go func() {
			stopChan <- comp.stop()
		}()

		select {
		case err := <-stopChan:
			if err != nil {
				logger.Error().Err(err).Str("component", comp.name).Msg("error stopping component")
			} else {
				logger.Info().Str("component", comp.name).Msg("stopped")
			}
		case <-stopCtx.Done():
			logger.Warn().Str("component", comp.name).Msg("timeout stopping component")
		}

		stopCancel()
	}

	if dashboardServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		if err := dashboardServer.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("error stopping dashboard server")
		}
	}

	if err := session.Err(); err != nil {
		logger.Error().Err(err).Msg("capture ended with error")
		logOutput.Close()
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}
