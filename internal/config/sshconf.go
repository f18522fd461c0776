package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// HostEntry is one connectable alias extracted from an SSH client config.
type HostEntry struct {
	Alias string
}

// HostDetails carries the resolved connection parameters for an alias,
// looked up through the SSH config machinery the ssh binary itself uses.
type HostDetails struct {
	Alias    string
	Hostname string
	User     string
	Port     int
}

// Hosts scans the SSH client config at path and returns the user-defined
// host aliases. A line whose first token is "Host" (case-insensitive)
// contributes its remaining tokens; wildcard patterns (* or ?) and
// negations (!) are skipped since they are not connectable targets.
// Duplicates are dropped, keeping first-seen order.
func Hosts(path string) ([]HostEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading ssh config: %w", err)
	}
	defer f.Close()

	var entries []HostEntry
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Host") {
			continue
		}
		for _, alias := range fields[1:] {
			if !connectable(alias) || seen[alias] {
				continue
			}
			seen[alias] = true
			entries = append(entries, HostEntry{Alias: alias})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ssh config: %w", err)
	}

	return entries, nil
}

// Aliases is Hosts flattened to plain strings, the shape the dispatcher
// consumes.
func Aliases(path string) ([]string, error) {
	entries, err := Hosts(path)
	if err != nil {
		return nil, err
	}
	aliases := make([]string, len(entries))
	for i, e := range entries {
		aliases[i] = e.Alias
	}
	return aliases, nil
}

// connectable reports whether an alias names a single concrete host.
// Wildcard patterns match groups of hosts and negations exclude them;
// neither can be dialed directly.
func connectable(alias string) bool {
	if alias == "" || strings.HasPrefix(alias, "!") {
		return false
	}
	return !strings.ContainsAny(alias, "*?")
}

// Describe resolves Hostname, User, and Port for each alias by applying the
// same pattern-matching rules the ssh client does to the config at path.
// Fields the config leaves unset fall back to the alias itself and port 22.
func Describe(path string, entries []HostEntry) ([]HostDetails, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading ssh config: %w", err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding ssh config: %w", err)
	}

	details := make([]HostDetails, len(entries))
	for i, e := range entries {
		d := HostDetails{Alias: e.Alias, Hostname: e.Alias, Port: 22}
		if hostname, err := cfg.Get(e.Alias, "Hostname"); err == nil && hostname != "" {
			d.Hostname = hostname
		}
		if user, err := cfg.Get(e.Alias, "User"); err == nil && user != "" {
			d.User = user
		}
		if portStr, err := cfg.Get(e.Alias, "Port"); err == nil && portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				d.Port = port
			}
		}
		details[i] = d
	}
	return details, nil
}
