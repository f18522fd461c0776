package executor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultWorkers is the pool size used when the caller does not set one.
const DefaultWorkers = 4

// DefaultTimeout is the per-host command timeout used when unset.
const DefaultTimeout = 30 * time.Second

// Runner executes the query command on a single host. Implementations may
// block for the full duration of the remote call; the Dispatcher runs each
// invocation on its own goroutine.
type Runner interface {
	Run(ctx context.Context, host string, command string) *Result
}

// ErrInvalidWorkers is returned when a non-positive worker count is
// explicitly requested.
var ErrInvalidWorkers = fmt.Errorf("worker count must be positive")

// Dispatcher fans the query command out across hosts with bounded
// concurrency and joins all results before returning.
type Dispatcher struct {
	runner  Runner
	workers int
	timeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithWorkers sets the maximum number of concurrent host queries.
// Non-positive values are rejected so a misconfigured pool size fails
// before any subprocess is spawned.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) error {
		if n <= 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidWorkers, n)
		}
		d.workers = n
		return nil
	}
}

// WithTimeout sets the per-host command timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		if t > 0 {
			d.timeout = t
		}
		return nil
	}
}

// New creates a Dispatcher with the given Runner and options.
func New(runner Runner, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		runner:  runner,
		workers: DefaultWorkers,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Job pairs a host with the command to run on it. Used by Each when
// different hosts need different commands.
type Job struct {
	Host    string
	Command string
}

// Dispatch runs command on every host in parallel, bounded by the worker
// limit. The returned slice has exactly one Result per host, in input
// order. A failure on one host never aborts or delays the others; an
// interrupted run marks unstarted hosts with the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, hosts []string, command string) []*Result {
	jobs := make([]Job, len(hosts))
	for i, h := range hosts {
		jobs[i] = Job{Host: h, Command: command}
	}
	return d.Each(ctx, jobs)
}

// Each runs every job in parallel with the same pool bounds and join
// semantics as Dispatch.
func (d *Dispatcher) Each(ctx context.Context, jobs []Job) []*Result {
	results := make([]*Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Add(1)
		go func(idx int, j Job) {
			defer wg.Done()

			// Acquire a pool slot, respecting parent context cancellation.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = &Result{
					Host: j.Host,
					Err:  ctx.Err(),
				}
				return
			}

			// Per-host timeout derived from the parent, so a global
			// interrupt also terminates the in-flight subprocess.
			hostCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			start := time.Now()
			result := d.runner.Run(hostCtx, j.Host, j.Command)
			if result == nil {
				result = &Result{}
			}
			result.Duration = time.Since(start)
			result.Host = j.Host

			// If the per-host context expired but the runner didn't notice,
			// record the timeout here.
			if hostCtx.Err() != nil && result.Err == nil {
				result.Err = hostCtx.Err()
			}

			results[idx] = result
		}(i, job)
	}

	wg.Wait()
	return results
}
