// Package config loads drover's YAML configuration: execution defaults,
// per-host overrides, credential references, and the control-plane
// endpoint.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level drover configuration.
type Config struct {
	Defaults     Defaults              `yaml:"defaults"`
	Hosts        map[string]Host       `yaml:"hosts,omitempty"`
	Credentials  map[string]Credential `yaml:"credentials,omitempty"`
	ControlPlane ControlPlane          `yaml:"control_plane,omitempty"`
}

// Defaults holds default settings for execution and polling.
type Defaults struct {
	Timeout      Duration `yaml:"timeout"`       // per-command timeout
	HostSessions int      `yaml:"host_sessions"` // max concurrent sessions per host
	PollInterval Duration `yaml:"poll_interval"` // stabilization poll interval
	MaxWait      Duration `yaml:"max_wait"`      // stabilization deadline
}

// Host defines per-host connection overrides.
type Host struct {
	Hostname     string `yaml:"hostname,omitempty"` // dial target if it differs from the key
	User         string `yaml:"user,omitempty"`
	Port         int    `yaml:"port,omitempty"`
	IdentityFile string `yaml:"identity_file,omitempty"`
	ProxyJump    string `yaml:"proxy_jump,omitempty"` // comma-separated jump hosts
}

// Credential references key material on disk. The key contents are read
// at resolve time, never stored in the config struct.
type Credential struct {
	User         string `yaml:"user,omitempty"`
	IdentityFile string `yaml:"identity_file"`
}

// ControlPlane holds the describe-service endpoint settings.
type ControlPlane struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token,omitempty"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings
// like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Load reads and validates a config file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			Timeout:      Duration{30 * time.Second},
			HostSessions: 4,
			PollInterval: Duration{10 * time.Second},
			MaxWait:      Duration{5 * time.Minute},
		},
	}
}

func applyDefaults(cfg *Config) {
	base := defaultConfig().Defaults
	if cfg.Defaults.Timeout.Duration == 0 {
		cfg.Defaults.Timeout = base.Timeout
	}
	if cfg.Defaults.HostSessions == 0 {
		cfg.Defaults.HostSessions = base.HostSessions
	}
	if cfg.Defaults.PollInterval.Duration == 0 {
		cfg.Defaults.PollInterval = base.PollInterval
	}
	if cfg.Defaults.MaxWait.Duration == 0 {
		cfg.Defaults.MaxWait = base.MaxWait
	}
}

func (c *Config) validate() error {
	if c.Defaults.Timeout.Duration < 0 {
		return fmt.Errorf("defaults.timeout must not be negative")
	}
	if c.Defaults.HostSessions < 0 {
		return fmt.Errorf("defaults.host_sessions must not be negative")
	}
	for name, cred := range c.Credentials {
		if cred.IdentityFile == "" {
			return fmt.Errorf("credential %q: identity_file is required", name)
		}
	}
	return nil
}
