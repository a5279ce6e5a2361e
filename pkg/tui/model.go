package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/objones25/go-traffic-monitor/pkg/analysis"
	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

// Monitor is the part of a capture session the terminal view reads.
type Monitor interface {
	Snapshot() []capture.Record
	TotalPacketCount() int
	Elapsed() time.Duration
}

// Tabs in display order.
const (
	TabOverview = iota
	TabIPAnalysis
	TabTCPFlags
	TabPacketSizes
)

var tabNames = []string{"Overview", "IP Analysis", "TCP Flags", "Packet Sizes"}

// Config controls the terminal view.
type Config struct {
	Interface string
	// Refresh is the auto refresh period; zero disables it.
	Refresh   time.Duration
	Analysis  analysis.Options
	OutputDir string
}

// TickMsg triggers a periodic refresh.
type TickMsg time.Time

type refreshMsg struct{}

type savedMsg struct {
	path  string
	count int
	err   error
}

// Model renders the current capture snapshot.
type Model struct {
	monitor Monitor
	cfg     Config

	tab     int
	summary analysis.Summary
	total   int
	elapsed time.Duration
	updated time.Time
	status  string

	talkers table.Model
	pairs   table.Model
}

// NewModel creates a terminal view over monitor.
func NewModel(monitor Monitor, cfg Config) Model {
	if cfg.Analysis.TopK <= 0 {
		cfg.Analysis.TopK = analysis.DefaultTopK
	}
	if cfg.Analysis.SizeBins <= 0 {
		cfg.Analysis.SizeBins = analysis.DefaultSizeBins
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}

	talkers := newTable([]table.Column{
		{Title: "Source", Width: 24},
		{Title: "Packets", Width: 9},
		{Title: "Destination", Width: 24},
		{Title: "Packets", Width: 9},
	}, true)
	pairs := newTable([]table.Column{
		{Title: "Source", Width: 24},
		{Title: "Destination", Width: 24},
		{Title: "Packets", Width: 9},
	}, false)

	return Model{
		monitor: monitor,
		cfg:     cfg,
		talkers: talkers,
		pairs:   pairs,
	}
}

func newTable(columns []table.Column, focused bool) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(focused),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func (m Model) Init() tea.Cmd {
	refresh := func() tea.Msg { return refreshMsg{} }
	if m.cfg.Refresh <= 0 {
		return refresh
	}
	return tea.Batch(refresh, tickCmd(m.cfg.Refresh))
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, monitor Monitor, cfg Config) error {
	p := tea.NewProgram(NewModel(monitor, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
