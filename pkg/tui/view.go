package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

const (
	barWidth       = 40
	timelineWindow = 10
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF7DB")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Margin(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m Model) View() string {
	header := "Network Traffic Monitor"
	if m.cfg.Interface != "" {
		header += " - Monitoring: " + m.cfg.Interface
	}

	tabs := make([]string, len(tabNames))
	for i, name := range tabNames {
		if i == m.tab {
			tabs[i] = activeTabStyle.Render(name)
		} else {
			tabs[i] = tabStyle.Render(name)
		}
	}

	var body string
	switch m.tab {
	case TabOverview:
		body = m.overviewView()
	case TabIPAnalysis:
		body = m.ipView()
	case TabTCPFlags:
		body = m.flagsView()
	case TabPacketSizes:
		body = m.sizesView()
	}

	help := "tab: switch view  r: refresh  s: save csv  q: quit"
	if m.status != "" {
		help = m.status + "  |  " + help
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(header),
		lipgloss.JoinHorizontal(lipgloss.Top, tabs...),
		body,
		helpStyle.Render(help),
	)
}

func (m Model) overviewView() string {
	rate := 0.0
	if secs := m.elapsed.Seconds(); secs > 0 {
		rate = float64(m.total) / secs
	}
	metrics := infoStyle.Render(fmt.Sprintf(
		"Total Packets: %d\nCapture Duration: %.1fs\nAverage Rate: %.2f PPS\nStored Bytes: %s",
		m.total, m.elapsed.Seconds(), rate, formatBytes(m.summary.TotalBytes)))

	labels := make([]capture.ProtocolLabel, 0, len(m.summary.Protocols))
	for label := range m.summary.Protocols {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		ci, cj := m.summary.Protocols[labels[i]], m.summary.Protocols[labels[j]]
		if ci != cj {
			return ci > cj
		}
		return labels[i] < labels[j]
	})

	var protoLines []string
	for _, label := range labels {
		protoLines = append(protoLines, fmt.Sprintf("%-10s %6d  %s",
			label, m.summary.Protocols[label], formatBytes(m.summary.ProtocolBytes[label])))
	}
	if len(protoLines) == 0 {
		protoLines = append(protoLines, "Waiting for data...")
	}
	protocols := infoStyle.Render("Protocols:\n" + strings.Join(protoLines, "\n"))

	timeline := m.summary.Timeline
	if len(timeline) > timelineWindow {
		timeline = timeline[len(timeline)-timelineWindow:]
	}
	peak := 0
	for _, sc := range timeline {
		peak = max(peak, sc.Count)
	}
	var timeLines []string
	for _, sc := range timeline {
		timeLines = append(timeLines, fmt.Sprintf("%s %s %d",
			sc.Second.Format("15:04:05"), bar(sc.Count, peak), sc.Count))
	}
	if len(timeLines) == 0 {
		timeLines = append(timeLines, "Waiting for data...")
	}
	traffic := infoStyle.Render("Packets per Second:\n" + strings.Join(timeLines, "\n"))

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, metrics, protocols),
		traffic,
	)
}

func (m Model) ipView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		infoStyle.Render("Top Sources / Destinations\n"+m.talkers.View()),
		infoStyle.Render("Top Pairs\n"+m.pairs.View()),
	)
}

func (m Model) flagsView() string {
	flags := make([]string, 0, len(m.summary.TCPFlags))
	peak := 0
	for f, n := range m.summary.TCPFlags {
		flags = append(flags, f)
		peak = max(peak, n)
	}
	sort.Slice(flags, func(i, j int) bool {
		ci, cj := m.summary.TCPFlags[flags[i]], m.summary.TCPFlags[flags[j]]
		if ci != cj {
			return ci > cj
		}
		return flags[i] < flags[j]
	})

	var lines []string
	for _, f := range flags {
		label := f
		if label == "" {
			label = "(none)"
		}
		lines = append(lines, fmt.Sprintf("%-10s %s %d", label, bar(m.summary.TCPFlags[f], peak), m.summary.TCPFlags[f]))
	}
	if len(lines) == 0 {
		lines = append(lines, "No TCP packets captured")
	}
	return infoStyle.Render("TCP Flags:\n" + strings.Join(lines, "\n"))
}

func (m Model) sizesView() string {
	peak := 0
	for _, b := range m.summary.SizeHistogram {
		peak = max(peak, b.Count)
	}

	var lines []string
	for _, b := range m.summary.SizeHistogram {
		if b.Count == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%7.0f-%-7.0f %s %d", b.Lower, b.Upper, bar(b.Count, peak), b.Count))
	}
	if len(lines) == 0 {
		lines = append(lines, "Waiting for data...")
	}
	return infoStyle.Render("Packet Sizes (bytes):\n" + strings.Join(lines, "\n"))
}

func bar(n, peak int) string {
	if peak <= 0 || n <= 0 {
		return ""
	}
	return strings.Repeat("█", max(1, n*barWidth/peak))
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
