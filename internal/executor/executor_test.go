package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// mockRunner is a configurable mock for testing the dispatcher.
type mockRunner struct {
	handler func(ctx context.Context, host string, command string) *Result
}

func (m *mockRunner) Run(ctx context.Context, host string, command string) *Result {
	return m.handler(ctx, host, command)
}

func TestDispatch_OneResultPerHost(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host string, command string) *Result {
			return &Result{
				Host:   host,
				Stdout: []byte("gpu report from " + host),
			}
		},
	}

	d, err := New(runner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hosts := []string{"gpu-01", "gpu-02", "gpu-03"}
	results := d.Dispatch(context.Background(), hosts, "nvidia-smi -q -x")

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Host != hosts[i] {
			t.Errorf("result[%d]: host = %q, want %q", i, r.Host, hosts[i])
		}
		if !r.Success() {
			t.Errorf("result[%d]: expected success, got exit=%d err=%v", i, r.ExitCode, r.Err)
		}
		if r.Duration == 0 {
			t.Errorf("result[%d]: duration should be non-zero", i)
		}
	}
}

func TestDispatch_FullCoverageAroundPoolSize(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host string, command string) *Result {
			return &Result{Host: host}
		},
	}

	// K < workers, K == workers, K > workers must all yield exactly K results.
	for _, k := range []int{1, 4, 9} {
		hosts := make([]string, k)
		for i := range hosts {
			hosts[i] = fmt.Sprintf("node-%02d", i)
		}

		d, err := New(runner, WithWorkers(4))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		results := d.Dispatch(context.Background(), hosts, "true")
		if len(results) != k {
			t.Fatalf("k=%d: expected %d results, got %d", k, k, len(results))
		}
		seen := make(map[string]bool, k)
		for _, r := range results {
			if seen[r.Host] {
				t.Errorf("k=%d: host %q reported twice", k, r.Host)
			}
			seen[r.Host] = true
		}
	}
}

func TestDispatch_ConcurrencyBounded(t *testing.T) {
	var running, peak atomic.Int32

	runner := &mockRunner{
		handler: func(ctx context.Context, host string, command string) *Result {
			cur := running.Add(1)
			for {
				prev := peak.Load()
				if cur <= prev || peak.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
			return &Result{Host: host}
		},
	}

	d, err := New(runner, WithWorkers(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	results := d.Dispatch(context.Background(), []string{"a", "b", "c", "d"}, "true")

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("expected at most 2 concurrent workers, saw %d", p)
	} else if p < 2 {
		t.Errorf("expected concurrency to reach 2, peak was %d", p)
	}
}

func TestDispatch_SlowHostDoesNotStallOthers(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host string, command string) *Result {
			if host == "stuck" {
				<-ctx.Done()
				return &Result{Host: host, Err: ctx.Err()}
			}
			return &Result{Host: host, Stdout: []byte("ok")}
		},
	}

	d, err := New(runner, WithWorkers(2), WithTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	results := d.Dispatch(context.Background(), []string{"stuck", "fast-1", "fast-2", "fast-3"}, "true")
	elapsed := time.Since(start)

	// Total time is bounded by the slow host's timeout, not the sum.
	if elapsed > time.Second {
		t.Errorf("dispatch took %v, expected to be bounded by the per-host timeout", elapsed)
	}
	if !results[0].TimedOut() {
		t.Errorf("stuck host: expected timeout, got %v", results[0].Err)
	}
	for _, r := range results[1:] {
		if !r.Success() {
			t.Errorf("host %q: expected success, got %v", r.Host, r.Err)
		}
	}
}

func TestDispatch_FailureIsolated(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host string, command string) *Result {
			switch host {
			case "broken":
				return &Result{Host: host, Stderr: []byte("nvidia-smi: command not found"), ExitCode: 127}
			case "unreachable":
				return &Result{Host: host, Err: errors.New("connection refused")}
			default:
				return &Result{Host: host, Stdout: []byte("ok")}
			}
		},
	}

	d, err := New(runner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	results := d.Dispatch(context.Background(), []string{"ok-1", "broken", "unreachable", "ok-2"}, "nvidia-smi -q -x")

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[1].Success() || results[1].ExitCode != 127 {
		t.Errorf("broken: expected exit 127, got %+v", results[1])
	}
	if results[2].Err == nil {
		t.Error("unreachable: expected connection error")
	}
	if !results[0].Success() || !results[3].Success() {
		t.Error("healthy hosts should not be affected by failures elsewhere")
	}
}

func TestDispatch_CancellationMarksRemainingHosts(t *testing.T) {
	var started atomic.Int32
	runner := &mockRunner{
		handler: func(ctx context.Context, host string, command string) *Result {
			started.Add(1)
			select {
			case <-time.After(10 * time.Second):
				return &Result{Host: host}
			case <-ctx.Done():
				return &Result{Host: host, Err: ctx.Err()}
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	d, err := New(runner, WithWorkers(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan []*Result, 1)
	go func() {
		done <- d.Dispatch(ctx, []string{"gpu-01", "gpu-02", "gpu-03"}, "sleep 60")
	}()

	for started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	results := <-done
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err == nil {
			t.Errorf("host %q: expected cancellation error, got nil", r.Host)
		}
	}
}

func TestEach_PerHostCommands(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host string, command string) *Result {
			return &Result{Host: host, Stdout: []byte(command)}
		},
	}

	d, err := New(runner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jobs := []Job{
		{Host: "gpu-01", Command: "ps -o user= -p 1001"},
		{Host: "gpu-02", Command: "ps -o user= -p 2002;ps -o user= -p 2003"},
	}
	results := d.Each(context.Background(), jobs)

	for i, r := range results {
		if string(r.Stdout) != jobs[i].Command {
			t.Errorf("job[%d]: command %q not delivered, got %q", i, jobs[i].Command, r.Stdout)
		}
	}
}

func TestDispatch_ZeroHosts(t *testing.T) {
	runner := &mockRunner{
		handler: func(ctx context.Context, host string, command string) *Result {
			t.Fatal("runner should not be called with zero hosts")
			return nil
		},
	}

	d, err := New(runner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if results := d.Dispatch(context.Background(), nil, "true"); len(results) != 0 {
		t.Fatalf("expected 0 results, got %d", len(results))
	}
}

func TestNew_RejectsNonPositiveWorkers(t *testing.T) {
	runner := &mockRunner{}
	for _, n := range []int{0, -1, -100} {
		if _, err := New(runner, WithWorkers(n)); !errors.Is(err, ErrInvalidWorkers) {
			t.Errorf("WithWorkers(%d): expected ErrInvalidWorkers, got %v", n, err)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	d, err := New(&mockRunner{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.workers != DefaultWorkers {
		t.Errorf("default workers = %d, want %d", d.workers, DefaultWorkers)
	}
	if d.timeout != DefaultTimeout {
		t.Errorf("default timeout = %v, want %v", d.timeout, DefaultTimeout)
	}
}

func TestWithTimeout_IgnoresInvalid(t *testing.T) {
	d, err := New(&mockRunner{}, WithTimeout(0), WithTimeout(-time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want default %v", d.timeout, DefaultTimeout)
	}
}
