package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level gpumon configuration.
type Config struct {
	SSHConfig string   `yaml:"ssh_config,omitempty"`
	Defaults  Defaults `yaml:"defaults"`
}

// Defaults holds default settings that CLI flags can override.
type Defaults struct {
	Workers       int      `yaml:"workers"`
	Timeout       Duration `yaml:"timeout"`
	Query         string   `yaml:"query"`
	Output        string   `yaml:"output"` // "table" or "json"
	ResolveOwners bool     `yaml:"resolve_owners"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultQuery is the remote GPU status command. The XML form is the only
// nvidia-smi output stable enough to decode.
const DefaultQuery = "nvidia-smi -q -x"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			Workers:       4,
			Timeout:       Duration{30 * time.Second},
			Query:         DefaultQuery,
			Output:        "table",
			ResolveOwners: true,
		},
	}
}

// DefaultConfigPath returns the default config file path.
// Respects $XDG_CONFIG_HOME if set, otherwise falls back to ~/.config.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir != "" {
		return filepath.Join(configDir, "gpumon", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gpumon", "config.yaml")
}

// Load reads and parses a config YAML file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the config from the default path
// (~/.config/gpumon/config.yaml). If the file does not exist, it returns
// the default config.
func LoadDefault() (*Config, error) {
	path := DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	if c.Defaults.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Defaults.Workers)
	}
	if c.Defaults.Timeout.Duration < 0 {
		return fmt.Errorf("default timeout must be non-negative, got %s", c.Defaults.Timeout)
	}
	if c.Defaults.Query == "" {
		return fmt.Errorf("query command must not be empty")
	}

	validOutputModes := map[string]bool{"table": true, "json": true}
	if c.Defaults.Output != "" && !validOutputModes[c.Defaults.Output] {
		return fmt.Errorf("invalid output mode %q, must be one of: table, json", c.Defaults.Output)
	}

	return nil
}
