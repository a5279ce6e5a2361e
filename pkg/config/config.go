// Package config loads the monitor configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/objones25/go-traffic-monitor/pkg/analysis"
	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

// UI modes.
const (
	UIModeTUI      = "tui"
	UIModeHeadless = "headless"
)

const defaultTUILogFile = "monitor.log"

var placeholderPattern = regexp.MustCompile(`\$\{[^}]*\}`)

type AgentConfig struct {
	Name      string `yaml:"name"`
	Interface string `yaml:"interface"`
	LogLevel  string `yaml:"log_level"`
	// LogFile redirects logs away from stderr. Defaults to monitor.log in tui mode.
	LogFile string `yaml:"log_file"`
}

type CaptureConfig struct {
	Promiscuous bool   `yaml:"promiscuous"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Timeout     string `yaml:"timeout"`
	BPFFilter   string `yaml:"bpf_filter"`
	Capacity    int    `yaml:"capacity"`
}

type AnalysisConfig struct {
	TopK     int `yaml:"top_k"`
	SizeBins int `yaml:"size_bins"`
}

type DashboardConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Port            int    `yaml:"port"`
	RefreshInterval string `yaml:"refresh_interval"`
}

type UIConfig struct {
	Mode            string `yaml:"mode"`
	RefreshInterval string `yaml:"refresh_interval"`
}

// Config is the monitor configuration file.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Capture   CaptureConfig   `yaml:"capture"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	UI        UIConfig        `yaml:"ui"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Name:     "traffic-monitor",
			LogLevel: "info",
		},
		Capture: CaptureConfig{
			Promiscuous: true,
			SnapshotLen: capture.DefaultSnapshotLen,
			Timeout:     capture.DefaultTimeout.String(),
			BPFFilter:   capture.DefaultBPFFilter,
			Capacity:    capture.DefaultCapacity,
		},
		Analysis: AnalysisConfig{
			TopK:     analysis.DefaultTopK,
			SizeBins: analysis.DefaultSizeBins,
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Port:            8080,
			RefreshInterval: "5s",
		},
		UI: UIConfig{
			Mode:            UIModeHeadless,
			RefreshInterval: "5s",
		},
	}
}

// Load reads the YAML file at path, substitutes ${VAR} placeholders from
// the environment, applies MONITOR_* overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	content := expandEnv(string(data))

	config := Default()
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// expandEnv replaces ${NAME} placeholders with environment values. Unknown
// placeholders are left untouched.
func expandEnv(content string) string {
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}
	return content
}

func (c *Config) applyEnv() {
	c.Agent.Interface = getEnv("MONITOR_INTERFACE", c.Agent.Interface)
	c.Agent.LogLevel = getEnv("MONITOR_LOG_LEVEL", c.Agent.LogLevel)
	c.UI.Mode = getEnv("MONITOR_UI_MODE", c.UI.Mode)
	c.Capture.Capacity = getEnvInt("MONITOR_CAPACITY", c.Capture.Capacity)
	c.Dashboard.Port = getEnvInt("MONITOR_DASHBOARD_PORT", c.Dashboard.Port)
}

// Validate checks required fields and parses every duration.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.Interface == "" {
		errs = append(errs, errors.New("agent.interface is required"))
	}
	if c.Capture.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capture.capacity must be positive, got %d", c.Capture.Capacity))
	}
	if c.Analysis.TopK <= 0 {
		errs = append(errs, fmt.Errorf("analysis.top_k must be positive, got %d", c.Analysis.TopK))
	}
	if c.Analysis.SizeBins <= 0 || c.Analysis.SizeBins > analysis.MaxSizeBins {
		errs = append(errs, fmt.Errorf("analysis.size_bins must be between 1 and %d, got %d", analysis.MaxSizeBins, c.Analysis.SizeBins))
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		errs = append(errs, fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port))
	}
	switch c.UI.Mode {
	case UIModeTUI, UIModeHeadless:
	default:
		errs = append(errs, fmt.Errorf("ui.mode must be %q or %q, got %q", UIModeTUI, UIModeHeadless, c.UI.Mode))
	}

	for name, value := range map[string]string{
		"capture.timeout":            c.Capture.Timeout,
		"dashboard.refresh_interval": c.Dashboard.RefreshInterval,
		"ui.refresh_interval":        c.UI.RefreshInterval,
	} {
		if d, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	for name, value := range map[string]string{
		"agent.name":                 c.Agent.Name,
		"agent.interface":            c.Agent.Interface,
		"agent.log_level":            c.Agent.LogLevel,
		"agent.log_file":             c.Agent.LogFile,
		"capture.timeout":            c.Capture.Timeout,
		"capture.bpf_filter":         c.Capture.BPFFilter,
		"dashboard.refresh_interval": c.Dashboard.RefreshInterval,
		"ui.mode":                    c.UI.Mode,
		"ui.refresh_interval":        c.UI.RefreshInterval,
	} {
		if ph := placeholderPattern.FindString(value); ph != "" {
			errs = append(errs, fmt.Errorf("%s: unresolved placeholder %s", name, ph))
		}
	}

	return errors.Join(errs...)
}

// CaptureConfig converts the capture section for capture.NewSession.
func (c *Config) CaptureConfig() capture.Config {
	timeout, _ := time.ParseDuration(c.Capture.Timeout)
	return capture.Config{
		Interface:   c.Agent.Interface,
		Promiscuous: c.Capture.Promiscuous,
		SnapshotLen: c.Capture.SnapshotLen,
		Timeout:     timeout,
		BPFFilter:   c.Capture.BPFFilter,
		Capacity:    c.Capture.Capacity,
	}
}

// AnalysisOptions converts the analysis section.
func (c *Config) AnalysisOptions() analysis.Options {
	return analysis.Options{TopK: c.Analysis.TopK, SizeBins: c.Analysis.SizeBins}
}

// DashboardRefresh returns the live feed push interval.
func (c *Config) DashboardRefresh() time.Duration {
	d, _ := time.ParseDuration(c.Dashboard.RefreshInterval)
	return d
}

// UIRefresh returns the terminal view refresh interval.
func (c *Config) UIRefresh() time.Duration {
	d, _ := time.ParseDuration(c.UI.RefreshInterval)
	return d
}

// DashboardAddr returns the listen address of the dashboard server.
func (c *Config) DashboardAddr() string {
	return fmt.Sprintf(":%d", c.Dashboard.Port)
}

// LogPath returns the file logs are written to, or "" for stderr.
func (c *Config) LogPath() string {
	if c.Agent.LogFile == "" && c.UI.Mode == UIModeTUI {
		return defaultTUILogFile
	}
	return c.Agent.LogFile
}

// LoadEnvFile sets variables from a KEY=VALUE file without overriding ones
// already present in the environment.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
