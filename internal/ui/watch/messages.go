package watch

import (
	"context"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/gpumon/gpumon/internal/monitor"
)

// snapshotMsg carries a freshly collected fleet snapshot.
type snapshotMsg struct {
	Snapshot *monitor.Snapshot
}

// refreshTickMsg triggers the next collection cycle.
type refreshTickMsg struct{}

// refreshTickCmd returns a tea.Cmd that fires a refreshTickMsg after the
// given interval.
func refreshTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// collectCmd runs one collection pass off the update loop.
func collectCmd(c Collector) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{Snapshot: c.Collect(context.Background())}
	}
}
