package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/objones25/go-traffic-monitor/pkg/analysis"
	"github.com/objones25/go-traffic-monitor/pkg/export"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.refresh()
			m.status = "Refreshed"
			return m, nil
		case "s":
			m.status = "Saving..."
			return m, saveCmd(m.monitor, m.cfg.OutputDir)
		case "tab", "right":
			m.tab = (m.tab + 1) % len(tabNames)
			return m, nil
		case "shift+tab", "left":
			m.tab = (m.tab + len(tabNames) - 1) % len(tabNames)
			return m, nil
		}

	case refreshMsg:
		m.refresh()
		return m, nil

	case TickMsg:
		m.refresh()
		if m.cfg.Refresh <= 0 {
			return m, nil
		}
		return m, tickCmd(m.cfg.Refresh)

	case savedMsg:
		if msg.err != nil {
			m.status = "Save failed: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("Saved %d packets to %s", msg.count, msg.path)
		}
		return m, nil
	}

	if m.tab == TabIPAnalysis {
		m.talkers, cmd = m.talkers.Update(msg)
	}
	return m, cmd
}

func (m *Model) refresh() {
	m.summary = analysis.Summarize(m.monitor.Snapshot(), m.cfg.Analysis)
	m.total = m.monitor.TotalPacketCount()
	m.elapsed = m.monitor.Elapsed()
	m.updated = time.Now()

	sources, destinations := m.summary.TopSources, m.summary.TopDestinations
	rows := make([]table.Row, max(len(sources), len(destinations)))
	for i := range rows {
		row := table.Row{"", "", "", ""}
		if i < len(sources) {
			row[0], row[1] = sources[i].Address, strconv.Itoa(sources[i].Count)
		}
		if i < len(destinations) {
			row[2], row[3] = destinations[i].Address, strconv.Itoa(destinations[i].Count)
		}
		rows[i] = row
	}
	m.talkers.SetRows(rows)

	pairRows := make([]table.Row, len(m.summary.TopPairs))
	for i, p := range m.summary.TopPairs {
		pairRows[i] = table.Row{p.Source, p.Destination, strconv.Itoa(p.Count)}
	}
	m.pairs.SetRows(pairRows)
}

// saveCmd writes the current snapshot as CSV into dir.
func saveCmd(monitor Monitor, dir string) tea.Cmd {
	return func() tea.Msg {
		records := monitor.Snapshot()
		path := filepath.Join(dir, export.Filename)

		f, err := os.Create(path)
		if err != nil {
			return savedMsg{err: fmt.Errorf("failed to create %s: %w", path, err)}
		}
		if err := export.WriteCSV(f, records); err != nil {
			f.Close()
			return savedMsg{err: err}
		}
		if err := f.Close(); err != nil {
			return savedMsg{err: fmt.Errorf("failed to close %s: %w", path, err)}
		}
		return savedMsg{path: path, count: len(records)}
	}
}
