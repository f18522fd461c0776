package sshexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/gpumon/gpumon/internal/executor"
)

// sshExitRemoteUnreachable is the exit code OpenSSH reserves for its own
// failures (connection, auth, host key); remote commands report 0-254.
const sshExitRemoteUnreachable = 255

// Runner implements executor.Runner by shelling out to the system ssh
// client. Transport and authentication are entirely the client's problem:
// keys, known_hosts, ProxyCommand chains and the rest come from the same
// config file the host aliases were read from.
type Runner struct {
	// Binary is the ssh client to invoke. Defaults to "ssh" from PATH.
	Binary string

	// ConfigPath is passed as -F so alias resolution matches the file the
	// hosts were parsed from. Empty means the client's own default chain.
	ConfigPath string

	// ExtraArgs are appended after the built-in options, before the host.
	ExtraArgs []string
}

// NewRunner creates a Runner bound to the given SSH config file.
func NewRunner(configPath string) *Runner {
	return &Runner{
		Binary:     "ssh",
		ConfigPath: configPath,
	}
}

// Run connects to host and executes command there, blocking until the
// subprocess exits or ctx expires. On ctx expiry the subprocess is killed
// and reaped; the result carries the context error.
func (r *Runner) Run(ctx context.Context, host string, command string) *executor.Result {
	result := &executor.Result{Host: host}

	binary := r.Binary
	if binary == "" {
		binary = "ssh"
	}

	args := make([]string, 0, 8+len(r.ExtraArgs))
	if r.ConfigPath != "" {
		args = append(args, "-F", r.ConfigPath)
	}
	// BatchMode keeps a misconfigured host from hanging the worker on a
	// password prompt; it fails fast instead.
	args = append(args, "-o", "BatchMode=yes")
	args = append(args, r.ExtraArgs...)
	args = append(args, host, command)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grace period between SIGKILL on cancellation and giving up on Wait,
	// so a wedged subprocess cannot leak past dispatch.
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.Err = ctxErr
		return result
	}
	if err == nil {
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode == sshExitRemoteUnreachable {
			result.Err = WrapConnectError(host, result.Stderr)
		}
		// Other nonzero codes are the remote command's own exit status:
		// data for the report, not an error.
		return result
	}

	// ssh binary missing, not executable, etc.
	result.Err = err
	return result
}
