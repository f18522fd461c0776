package sshexec

import (
	"fmt"
	"strings"
)

// ConnectError wraps an SSH client connection failure with a user-friendly hint.
type ConnectError struct {
	Host   string
	Detail string // last meaningful stderr line from the ssh client
	Hint   string
}

func (e *ConnectError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s: %s", e.Host, e.Detail)
	}
	return fmt.Sprintf("%s: %s\n  hint: %s", e.Host, e.Detail, e.Hint)
}

// WrapConnectError classifies an exit-255 ssh failure from its stderr and
// attaches a friendly hint. Unrecognized failures still become a
// ConnectError, just without a hint.
func WrapConnectError(host string, stderr []byte) error {
	detail := lastLine(stderr)
	if detail == "" {
		detail = "connection failed"
	}

	lower := strings.ToLower(detail)

	var hint string
	switch {
	case strings.Contains(lower, "permission denied"):
		hint = fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", host)
	case strings.Contains(lower, "connection refused"):
		hint = "verify SSH daemon is running on the target host"
	case strings.Contains(lower, "could not resolve hostname"),
		strings.Contains(lower, "name or service not known"):
		hint = "verify hostname is correct"
	case strings.Contains(lower, "connection timed out"),
		strings.Contains(lower, "operation timed out"):
		hint = "host may be offline or blocked by a firewall"
	case strings.Contains(lower, "host key verification failed"):
		hint = fmt.Sprintf("connect once interactively, or remove a stale key with: ssh-keygen -R %s", host)
	case strings.Contains(lower, "no route to host"):
		hint = "verify network connectivity to the host"
	}

	return &ConnectError{Host: host, Detail: detail, Hint: hint}
}

// lastLine returns the last non-empty line of the ssh client's stderr,
// which is where OpenSSH puts the actual failure reason.
func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
