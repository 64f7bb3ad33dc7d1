package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// SupportedEngine is the only acme-dns database engine the sidecar can write to
const SupportedEngine = "sqlite3"

// Config is the main configuration structure. The sidecar reads the acme-dns
// configuration file and its own [sidecar] section; other acme-dns sections
// are ignored.
type Config struct {
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Sidecar  SidecarConfig  `toml:"sidecar" yaml:"sidecar"`
}

// DatabaseConfig mirrors the acme-dns [database] section
type DatabaseConfig struct {
	Engine     string `toml:"engine" yaml:"engine"`
	Connection string `toml:"connection" yaml:"connection"` // Path to the SQLite file
}

// SidecarConfig contains the sidecar's own settings
type SidecarConfig struct {
	Secrets  SecretsConfig         `toml:"secrets" yaml:"secrets"`
	Logging  LoggingConfig         `toml:"logging" yaml:"logging"`
	Database SidecarDatabaseConfig `toml:"database" yaml:"database"`
	Watch    WatchConfig           `toml:"watch" yaml:"watch"`
	Metrics  MetricsConfig         `toml:"metrics" yaml:"metrics"`
	Journal  JournalConfig         `toml:"journal" yaml:"journal"`
}

// SecretsConfig narrows which secrets are watched. Empty means no selector.
type SecretsConfig struct {
	FieldSelector string `toml:"field_selector" yaml:"field_selector"`
	LabelSelector string `toml:"label_selector" yaml:"label_selector"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`   // debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // json, text
}

// SidecarDatabaseConfig contains database access settings
type SidecarDatabaseConfig struct {
	BusyTimeout  Duration `toml:"busy_timeout" yaml:"busy_timeout"`   // Default: 5s
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"` // Readiness poll interval (default: 1s)
}

// WatchConfig contains secret watch settings
type WatchConfig struct {
	ResubscribeDelay Duration `toml:"resubscribe_delay" yaml:"resubscribe_delay"` // Default: 1s
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled"`
	ListenAddr    string   `toml:"listen_addr" yaml:"listen_addr"`       // Default: :9090
	Path          string   `toml:"path" yaml:"path"`                     // Default: /metrics
	FlushInterval Duration `toml:"flush_interval" yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string `toml:"allowed_ips" yaml:"allowed_ips"`       // IP addresses/CIDRs allowed to access metrics
}

// JournalConfig contains reconcile journal settings
type JournalConfig struct {
	Path       string `toml:"path" yaml:"path"` // Empty disables the journal
	MaxEntries int    `toml:"max_entries" yaml:"max_entries"`
}

// Duration is a time.Duration written as a string such as "1s" in both TOML
// and YAML
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration from a TOML file, or a YAML file when the
// extension is .yaml or .yml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Sidecar.Logging.Level == "" {
		c.Sidecar.Logging.Level = "info"
	}
	if c.Sidecar.Logging.Format == "" {
		c.Sidecar.Logging.Format = "text"
	}

	if c.Sidecar.Database.BusyTimeout == 0 {
		c.Sidecar.Database.BusyTimeout = Duration(5 * time.Second)
	}
	if c.Sidecar.Database.PollInterval == 0 {
		c.Sidecar.Database.PollInterval = Duration(time.Second)
	}

	if c.Sidecar.Watch.ResubscribeDelay == 0 {
		c.Sidecar.Watch.ResubscribeDelay = Duration(time.Second)
	}

	if c.Sidecar.Metrics.ListenAddr == "" {
		c.Sidecar.Metrics.ListenAddr = ":9090"
	}
	if c.Sidecar.Metrics.Path == "" {
		c.Sidecar.Metrics.Path = "/metrics"
	}
	if c.Sidecar.Metrics.FlushInterval == 0 {
		c.Sidecar.Metrics.FlushInterval = Duration(10 * time.Second)
	}

	if c.Sidecar.Journal.MaxEntries == 0 {
		c.Sidecar.Journal.MaxEntries = 1000
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Engine != SupportedEngine {
		return fmt.Errorf("unsupported database.engine: %q (only %s is supported)", c.Database.Engine, SupportedEngine)
	}
	if c.Database.Connection == "" {
		return fmt.Errorf("database.connection is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Sidecar.Logging.Level] {
		return fmt.Errorf("invalid sidecar.logging.level: %s (must be debug, info, warn, or error)", c.Sidecar.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Sidecar.Logging.Format] {
		return fmt.Errorf("invalid sidecar.logging.format: %s (must be json or text)", c.Sidecar.Logging.Format)
	}

	for name, d := range map[string]Duration{
		"sidecar.database.busy_timeout":   c.Sidecar.Database.BusyTimeout,
		"sidecar.database.poll_interval":  c.Sidecar.Database.PollInterval,
		"sidecar.watch.resubscribe_delay": c.Sidecar.Watch.ResubscribeDelay,
		"sidecar.metrics.flush_interval":  c.Sidecar.Metrics.FlushInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if c.Sidecar.Metrics.Enabled && !strings.HasPrefix(c.Sidecar.Metrics.Path, "/") {
		return fmt.Errorf("sidecar.metrics.path must start with /")
	}

	if c.Sidecar.Journal.MaxEntries < 0 {
		return fmt.Errorf("sidecar.journal.max_entries must not be negative")
	}

	return nil
}

// JournalEnabled returns true if a journal file is configured
func (c *Config) JournalEnabled() bool {
	return c.Sidecar.Journal.Path != ""
}
