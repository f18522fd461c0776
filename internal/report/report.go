// Package report renders aggregated fleet snapshots for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"golang.org/x/term"

	"github.com/gpumon/gpumon/internal/monitor"
	"github.com/gpumon/gpumon/internal/smi"
)

// barWidth is the number of cells in a memory gauge.
const barWidth = 10

// minHostColumn keeps short alias lists from producing a cramped table.
const minHostColumn = 20

var (
	usedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672"))
	freeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	hostStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00E5FF"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// Options controls rendering.
type Options struct {
	Color bool
	Long  bool // per-GPU detail blocks instead of the gauge table
	Width int  // output width; <= 0 means TerminalWidth()
}

// TerminalWidth returns the stdout terminal width, or 80 when stdout is not
// a terminal.
func TerminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// Render writes the snapshot as a human-readable report: one line (or block
// in long mode) per host, in input order, followed by a summary line.
func Render(w io.Writer, snap *monitor.Snapshot, opts Options) error {
	if opts.Width <= 0 {
		opts.Width = TerminalWidth()
	}

	var b strings.Builder
	if opts.Long {
		writeLong(&b, snap, opts)
	} else {
		writeTable(&b, snap, opts)
	}

	ok, failed, timedOut, cancelled := snap.Counts()
	parts := []string{fmt.Sprintf("%d ok", ok)}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if timedOut > 0 {
		parts = append(parts, fmt.Sprintf("%d timeout", timedOut))
	}
	if cancelled > 0 {
		parts = append(parts, fmt.Sprintf("%d cancelled", cancelled))
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// writeTable renders the compact gauge view: one row per host, one memory
// bar per device.
func writeTable(b *strings.Builder, snap *monitor.Snapshot, opts Options) {
	hostCol := minHostColumn
	maxGPUs := 0
	for _, h := range snap.Hosts {
		if len(h.Alias)+2 > hostCol {
			hostCol = len(h.Alias) + 2
		}
		if h.OK() && len(h.Report.GPUs) > maxGPUs {
			maxGPUs = len(h.Report.GPUs)
		}
	}

	header := fmt.Sprintf("%-*s", hostCol, "HOST")
	if maxGPUs > 0 {
		header += fmt.Sprintf("cuda:0 -> cuda:%d", maxGPUs-1)
	}
	b.WriteString(colorize(header, headerStyle, opts.Color))
	b.WriteString("\n")

	for _, h := range snap.Hosts {
		b.WriteString(colorize(fmt.Sprintf("%-*s", hostCol, h.Alias), hostStyle, opts.Color))
		if !h.OK() {
			b.WriteString(colorize("error: "+clip(errorText(h), hostCol+7, opts.Width), errStyle, opts.Color))
			b.WriteString("\n")
			continue
		}
		for _, g := range h.Report.GPUs {
			b.WriteString(gauge(g.FBMemory, opts.Color))
		}
		b.WriteString("\n")
	}
}

// gauge renders |#####-----| with the used portion red and the rest green,
// matching memory pressure at a glance.
func gauge(m smi.Memory, color bool) string {
	used := int(math.Round(m.UsedFraction() * barWidth))
	if used > barWidth {
		used = barWidth
	}
	return "|" +
		colorize(strings.Repeat("#", used), usedStyle, color) +
		colorize(strings.Repeat("-", barWidth-used), freeStyle, color) +
		"|"
}

// writeLong renders one detail block per host.
func writeLong(b *strings.Builder, snap *monitor.Snapshot, opts Options) {
	for _, h := range snap.Hosts {
		b.WriteString(colorize(h.Alias, hostStyle, opts.Color))
		if !h.OK() {
			b.WriteString("  ")
			b.WriteString(colorize("error: "+errorText(h), errStyle, opts.Color))
			b.WriteString("\n\n")
			continue
		}

		r := h.Report
		b.WriteString(colorize(
			fmt.Sprintf("  (driver %s, CUDA %s, %s)", r.DriverVersion, r.CUDAVersion, h.Result.Duration.Round(time.Millisecond)),
			subtleStyle, opts.Color))
		b.WriteString("\n")

		for _, g := range r.GPUs {
			line := fmt.Sprintf("  %-8s %s  %s  %5d/%d MiB", g.Device(), gauge(g.FBMemory, opts.Color), g.ProductName, g.FBMemory.Used, g.FBMemory.Total)
			if g.Utilization.GPU >= 0 {
				line += fmt.Sprintf("  %3d%% util", g.Utilization.GPU)
			}
			if g.Temperature.GPU >= 0 {
				line += fmt.Sprintf("  %d°C", g.Temperature.GPU)
			}
			b.WriteString(line)
			b.WriteString("\n")

			for _, p := range g.Processes.Infos {
				owner := p.Owner
				if owner == "" {
					owner = "?"
				}
				b.WriteString(colorize(
					fmt.Sprintf("           %s pid %s (%s) %d MiB", owner, p.PID, p.Name, p.UsedMemory),
					subtleStyle, opts.Color))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
}

// RenderJSON writes the snapshot as a JSON document.
func RenderJSON(w io.Writer, snap *monitor.Snapshot) error {
	type jsonProcess struct {
		PID           string `json:"pid"`
		Name          string `json:"name"`
		Owner         string `json:"owner,omitempty"`
		UsedMemoryMiB int64  `json:"used_memory_mib"`
	}
	type jsonGPU struct {
		Device       string        `json:"device"`
		Product      string        `json:"product,omitempty"`
		MemUsedMiB   int64         `json:"memory_used_mib"`
		MemTotalMiB  int64         `json:"memory_total_mib"`
		UtilPct      int           `json:"gpu_util_pct"`
		TemperatureC int           `json:"temperature_c"`
		Processes    []jsonProcess `json:"processes,omitempty"`
	}
	type jsonHost struct {
		Host     string    `json:"host"`
		OK       bool      `json:"ok"`
		Error    string    `json:"error,omitempty"`
		Duration string    `json:"duration"`
		Driver   string    `json:"driver_version,omitempty"`
		CUDA     string    `json:"cuda_version,omitempty"`
		GPUs     []jsonGPU `json:"gpus,omitempty"`
	}
	type jsonSnapshot struct {
		Taken string     `json:"taken"`
		Hosts []jsonHost `json:"hosts"`
	}

	out := jsonSnapshot{
		Taken: snap.Taken.UTC().Format("2006-01-02T15:04:05Z"),
		Hosts: make([]jsonHost, len(snap.Hosts)),
	}
	for i, h := range snap.Hosts {
		jh := jsonHost{
			Host:     h.Alias,
			OK:       h.OK(),
			Duration: h.Result.Duration.String(),
		}
		if h.Err != nil {
			jh.Error = h.Err.Error()
		}
		if h.OK() {
			jh.Driver = h.Report.DriverVersion
			jh.CUDA = h.Report.CUDAVersion
			for _, g := range h.Report.GPUs {
				jg := jsonGPU{
					Device:       g.Device(),
					Product:      g.ProductName,
					MemUsedMiB:   int64(g.FBMemory.Used),
					MemTotalMiB:  int64(g.FBMemory.Total),
					UtilPct:      int(g.Utilization.GPU),
					TemperatureC: int(g.Temperature.GPU),
				}
				for _, p := range g.Processes.Infos {
					jg.Processes = append(jg.Processes, jsonProcess{
						PID:           p.PID,
						Name:          p.Name,
						Owner:         p.Owner,
						UsedMemoryMiB: int64(p.UsedMemory),
					})
				}
				jh.GPUs = append(jh.GPUs, jg)
			}
		}
		out.Hosts[i] = jh
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// errorText is the one-line failure description for a host.
func errorText(h *monitor.HostReport) string {
	switch {
	case h.Result.TimedOut():
		return "timeout"
	case h.Result.Cancelled():
		return "cancelled"
	case h.Err != nil:
		return firstLine(h.Err.Error())
	default:
		return "unknown failure"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// colorize applies style only when color output is enabled.
func colorize(text string, style lipgloss.Style, color bool) string {
	if !color {
		return text
	}
	return style.Render(text)
}

// clip truncates s so that a line with prefix chars already written stays
// within width.
func clip(s string, prefix, width int) string {
	room := width - prefix
	if room <= 3 || len(s) <= room {
		return s
	}
	return s[:room-3] + "..."
}
