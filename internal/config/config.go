// Package config handles VEN configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is indirected so tests can override the search order
// without touching the real filesystem.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/oadr2-ven/config.yaml, /config/config.yaml,
// /etc/oadr2-ven/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "oadr2-ven", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/oadr2-ven/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all VEN configuration.
type Config struct {
	Ven      VenConfig     `yaml:"ven"`
	VTN      VTNConfig     `yaml:"vtn"`
	Control  ControlConfig `yaml:"control"`
	Listen   ListenConfig  `yaml:"listen"`
	Store    StoreConfig   `yaml:"store"`
	LogLevel string        `yaml:"log_level"`
}

// VenConfig identifies this VEN and the events it is willing to accept.
type VenConfig struct {
	ID         string `yaml:"id"`
	GroupID    string `yaml:"group_id"`
	ResourceID string `yaml:"resource_id"`
	PartyID    string `yaml:"party_id"`
	Profile    string `yaml:"profile"` // "2.0a" (only supported value today)
}

// VTNConfig restricts which VTNs and market contexts this VEN honors,
// and how it reaches the VTN for polling-style transports.
type VTNConfig struct {
	AllowedIDs      []string `yaml:"allowed_ids"`     // empty = accept any VTN
	MarketContexts  []string `yaml:"market_contexts"` // empty = accept any market context
	BaseURI         string   `yaml:"base_uri"`
	PollIntervalSec int      `yaml:"poll_interval_sec"`
}

// ControlConfig tunes the periodic signal-level scan.
type ControlConfig struct {
	IntervalSec int `yaml:"interval_sec"`
}

// ListenConfig defines the HTTP carrier's bind settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// StoreConfig selects and configures the event store backend.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file path; ":memory:" for an in-memory test store
}

// Interval returns the control loop scan interval as a time.Duration.
func (c ControlConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// PollInterval returns the VTN poll interval as a time.Duration.
func (c VTNConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${VTN_BASE_URI}). This is a
	// convenience for container deployments; the recommended approach
	// is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Ven.Profile == "" {
		c.Ven.Profile = "2.0a"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Control.IntervalSec == 0 {
		c.Control.IntervalSec = 30
	}
	if c.VTN.PollIntervalSec == 0 {
		c.VTN.PollIntervalSec = 300
	}
	if c.Store.Path == "" {
		c.Store.Path = "./oadr2-ven.db"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Ven.ID == "" {
		return fmt.Errorf("ven.id must not be empty")
	}
	if c.Ven.Profile != "2.0a" {
		return fmt.Errorf("ven.profile %q unsupported (only \"2.0a\" is implemented)", c.Ven.Profile)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Control.IntervalSec < 1 {
		return fmt.Errorf("control.interval_sec %d must be positive", c.Control.IntervalSec)
	}
	if c.VTN.PollIntervalSec < 1 {
		return fmt.Errorf("vtn.poll_interval_sec %d must be positive", c.VTN.PollIntervalSec)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development against a loopback VTN. All defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Ven: VenConfig{
			ID:      "ven-dev",
			Profile: "2.0a",
		},
	}
	cfg.applyDefaults()
	return cfg
}
