package executor

import (
	"context"
	"errors"
	"time"
)

// Result holds the outcome of running the query command on a single host.
// Exactly one Result is produced per dispatched host, success or not.
type Result struct {
	Host     string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	Err      error // connection, timeout, or cancellation errors
}

// Success reports whether the remote command ran and exited zero.
func (r *Result) Success() bool {
	return r != nil && r.Err == nil && r.ExitCode == 0
}

// TimedOut reports whether the host failed due to the per-host deadline.
func (r *Result) TimedOut() bool {
	return r != nil && errors.Is(r.Err, context.DeadlineExceeded)
}

// Cancelled reports whether the host was abandoned because the whole run
// was interrupted before or during its execution.
func (r *Result) Cancelled() bool {
	return r != nil && errors.Is(r.Err, context.Canceled)
}
