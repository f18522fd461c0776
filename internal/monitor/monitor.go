// Package monitor collects one fleet-wide GPU snapshot: fan out the query
// command to every host, decode what comes back, and attribute GPU
// processes to their owners.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gpumon/gpumon/internal/executor"
	"github.com/gpumon/gpumon/internal/smi"
)

// Monitor produces Snapshots for a fixed set of hosts.
type Monitor struct {
	dispatcher    *executor.Dispatcher
	hosts         []string
	query         string
	resolveOwners bool
	log           zerolog.Logger
}

// Config holds the knobs for a Monitor.
type Config struct {
	Hosts         []string
	Query         string
	ResolveOwners bool
	Log           zerolog.Logger
}

// New creates a Monitor that dispatches through d.
func New(d *executor.Dispatcher, cfg Config) *Monitor {
	return &Monitor{
		dispatcher:    d,
		hosts:         cfg.Hosts,
		query:         cfg.Query,
		resolveOwners: cfg.ResolveOwners,
		log:           cfg.Log,
	}
}

// HostReport is the per-host slice of a Snapshot.
type HostReport struct {
	Alias  string
	Result *executor.Result
	Report *smi.Report // nil unless the query succeeded and decoded
	Err    error       // query or decode failure, nil on success
}

// OK reports whether the host produced a decodable GPU report.
func (h *HostReport) OK() bool {
	return h.Err == nil && h.Report != nil
}

// Snapshot is one aggregated pass over the whole fleet.
type Snapshot struct {
	Taken time.Time
	Hosts []*HostReport
}

// Counts tallies host outcomes for summary lines.
func (s *Snapshot) Counts() (ok, failed, timedOut, cancelled int) {
	for _, h := range s.Hosts {
		switch {
		case h.OK():
			ok++
		case h.Result.TimedOut():
			timedOut++
		case h.Result.Cancelled():
			cancelled++
		default:
			failed++
		}
	}
	return
}

// Collect gathers a snapshot for every configured host. Per-host failures
// land in the corresponding HostReport; Collect itself only reflects
// interruption through the individual results, never aborts the batch.
func (m *Monitor) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{Taken: time.Now()}

	m.log.Debug().Int("hosts", len(m.hosts)).Str("query", m.query).Msg("dispatching gpu query")
	results := m.dispatcher.Dispatch(ctx, m.hosts, m.query)

	snap.Hosts = make([]*HostReport, len(results))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, res := range results {
		g.Go(func() error {
			snap.Hosts[i] = decode(res)
			return nil
		})
	}
	_ = g.Wait() // decode never returns an error

	for _, h := range snap.Hosts {
		if h.Err != nil {
			m.log.Warn().Str("host", h.Alias).Err(h.Err).Msg("host query failed")
		}
	}

	if m.resolveOwners && ctx.Err() == nil {
		m.attachOwners(ctx, snap)
	}

	return snap
}

// decode turns a raw query result into a HostReport.
func decode(res *executor.Result) *HostReport {
	h := &HostReport{Alias: res.Host, Result: res}

	switch {
	case res.Err != nil:
		h.Err = res.Err
	case res.ExitCode != 0:
		h.Err = fmt.Errorf("query exited %d: %s", res.ExitCode, firstLine(res.Stderr))
	default:
		report, err := smi.Parse(res.Stdout)
		if err != nil {
			h.Err = err
		} else {
			h.Report = report
		}
	}
	return h
}

// attachOwners runs a second, much cheaper fan-out asking each busy host
// which user owns each GPU process. Failures here degrade to unattributed
// processes; they never fail the snapshot.
func (m *Monitor) attachOwners(ctx context.Context, snap *Snapshot) {
	var jobs []executor.Job
	var targets []*HostReport
	var pidSets [][]string

	for _, h := range snap.Hosts {
		if !h.OK() {
			continue
		}
		pids := h.Report.PIDs()
		if len(pids) == 0 {
			continue
		}
		jobs = append(jobs, executor.Job{Host: h.Alias, Command: ownerQuery(pids)})
		targets = append(targets, h)
		pidSets = append(pidSets, pids)
	}
	if len(jobs) == 0 {
		return
	}

	m.log.Debug().Int("hosts", len(jobs)).Msg("resolving process owners")
	results := m.dispatcher.Each(ctx, jobs)

	for i, res := range results {
		if !res.Success() {
			m.log.Debug().Str("host", res.Host).Err(res.Err).Msg("owner lookup failed")
			continue
		}
		targets[i].Report.SetOwners(zipOwners(pidSets[i], res.Stdout))
	}
}

// ownerQuery builds the chained ps invocation, one per pid so output lines
// come back in pid order.
func ownerQuery(pids []string) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = "ps -o user= -p " + pid
	}
	return strings.Join(parts, ";")
}

// zipOwners pairs pids with the usernames ps printed, line by line. A pid
// that exited between the two queries prints nothing and shortens the
// output, so the pairing is best-effort.
func zipOwners(pids []string, stdout []byte) map[string]string {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	owners := make(map[string]string, len(pids))
	for i, pid := range pids {
		if i >= len(lines) {
			break
		}
		if user := strings.TrimSpace(lines[i]); user != "" {
			owners[pid] = user
		}
	}
	return owners
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
