package pathutil

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandHomeTilde(t *testing.T) {
	got := ExpandHome("~/.ssh/config")
	if strings.HasPrefix(got, "~") {
		t.Errorf("ExpandHome left tilde in place: %q", got)
	}
	if !strings.HasSuffix(got, filepath.Join(".ssh", "config")) {
		t.Errorf("ExpandHome(%q) = %q, expected .ssh/config suffix", "~/.ssh/config", got)
	}
}

func TestExpandHomeBareTilde(t *testing.T) {
	got := ExpandHome("~")
	if got == "~" {
		t.Skip("no home directory in test environment")
	}
	if strings.Contains(got, "~") {
		t.Errorf("ExpandHome(%q) = %q, want home directory", "~", got)
	}
	if got == "" {
		t.Errorf("ExpandHome(%q) returned empty path", "~")
	}
}

func TestExpandHomeAbsolutePathUnchanged(t *testing.T) {
	if got := ExpandHome("/etc/ssh/ssh_config"); got != "/etc/ssh/ssh_config" {
		t.Errorf("ExpandHome changed absolute path: %q", got)
	}
}

func TestExpandHomeOtherUserUnchanged(t *testing.T) {
	if got := ExpandHome("~alice/.ssh/config"); got != "~alice/.ssh/config" {
		t.Errorf("ExpandHome changed ~user path: %q", got)
	}
}

func TestDefaultSSHConfigPath(t *testing.T) {
	got := DefaultSSHConfigPath()
	if got == "" {
		t.Skip("no home directory in test environment")
	}
	if !strings.HasSuffix(got, filepath.Join(".ssh", "config")) {
		t.Errorf("DefaultSSHConfigPath() = %q, expected .ssh/config suffix", got)
	}
}
