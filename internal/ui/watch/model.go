// Package watch is the live dashboard: it re-collects the fleet snapshot on
// an interval and renders it full-screen.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/gpumon/gpumon/internal/monitor"
	"github.com/gpumon/gpumon/internal/report"
)

// Collector produces fleet snapshots. Satisfied by *monitor.Monitor.
type Collector interface {
	Collect(ctx context.Context) *monitor.Snapshot
}

var (
	colorCyan   = lipgloss.Color("#00E5FF")
	colorSubtle = lipgloss.Color("#626262")
	colorWhite  = lipgloss.Color("#FFFFFF")

	titleStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)
)

// Model is the root Bubble Tea model for gpumon watch.
type Model struct {
	collector Collector
	interval  time.Duration
	long      bool

	spinner    spinner.Model
	viewport   viewport.Model
	snap       *monitor.Snapshot
	refreshing bool

	width  int
	height int
}

// New creates a watch Model refreshing every interval.
func New(c Collector, interval time.Duration, long bool) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		collector:  c,
		interval:   interval,
		long:       long,
		spinner:    sp,
		viewport:   viewport.New(),
		refreshing: true, // first collection starts in Init
	}
}

// Init kicks off the first collection immediately.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, collectCmd(m.collector))
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.SetWidth(m.width)
		m.viewport.SetHeight(max(m.height-2, 1)) // title + status bar
		m.refreshContent()
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.refreshing {
				m.refreshing = true
				return m, tea.Batch(m.spinner.Tick, collectCmd(m.collector))
			}
			return m, nil
		case "l":
			m.long = !m.long
			m.refreshContent()
			return m, nil
		}

	case refreshTickMsg:
		if m.refreshing {
			return m, nil
		}
		m.refreshing = true
		return m, tea.Batch(m.spinner.Tick, collectCmd(m.collector))

	case snapshotMsg:
		m.snap = msg.Snapshot
		m.refreshing = false
		m.refreshContent()
		return m, refreshTickCmd(m.interval)

	case spinner.TickMsg:
		if !m.refreshing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// refreshContent re-renders the snapshot into the viewport.
func (m *Model) refreshContent() {
	if m.snap == nil {
		return
	}
	var b strings.Builder
	// Render errors only mean the builder failed, which it cannot.
	_ = report.Render(&b, m.snap, report.Options{
		Color: true,
		Long:  m.long,
		Width: max(m.width, 40),
	})
	m.viewport.SetContent(b.String())
}

// View renders the dashboard.
func (m Model) View() tea.View {
	if m.width == 0 || m.height == 0 {
		return tea.NewView("Loading...")
	}

	title := titleStyle.Render("gpumon")
	if m.refreshing {
		title += "  " + m.spinner.View() + helpStyle.Render("collecting...")
	}

	body := m.viewport.View()
	if m.snap == nil && !m.refreshing {
		body = helpStyle.Render("no snapshot yet")
	}

	v := tea.NewView(lipgloss.JoinVertical(lipgloss.Left,
		title,
		body,
		m.statusBar(),
	))
	v.AltScreen = true
	return v
}

func (m Model) statusBar() string {
	left := "q quit · r refresh · l detail"
	right := ""
	if m.snap != nil {
		ok, failed, timedOut, cancelled := m.snap.Counts()
		right = fmt.Sprintf("%d/%d hosts ok", ok, len(m.snap.Hosts))
		if n := failed + timedOut + cancelled; n > 0 {
			right += fmt.Sprintf(" (%d unreachable)", n)
		}
		right += "  " + m.snap.Taken.Format("15:04:05")
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
