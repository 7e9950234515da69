// Package config loads stockledger settings from a config file, the
// environment and command-line flags.
//
// Precedence, highest first: flags bound by the CLI, STOCKLEDGER_* variables
// (dots become underscores, so sync.debounce is STOCKLEDGER_SYNC_DEBOUNCE),
// the config file, then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "STOCKLEDGER"

// DefaultDir holds the default store, ledger and log files.
const DefaultDir = ".stockledger"

// Config is the full application configuration.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// SourceConfig locates the document store.
type SourceConfig struct {
	Path         string        `mapstructure:"path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LedgerConfig locates the ledger database.
type LedgerConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Timezone string `mapstructure:"timezone"`
}

// SyncConfig tunes the daemon.
type SyncConfig struct {
	Debounce        time.Duration `mapstructure:"debounce"`
	PruneInterval   time.Duration `mapstructure:"prune_interval"`
	ChangeRetention time.Duration `mapstructure:"change_retention"`
	WatchFiles      bool          `mapstructure:"watch_files"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DashboardConfig configures the WebSocket dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// defaults lists every key with its default value.
var defaults = map[string]any{
	"source.path":           filepath.Join(DefaultDir, "source.db"),
	"source.poll_interval":  "250ms",
	"ledger.driver":         "sqlite3",
	"ledger.dsn":            filepath.Join(DefaultDir, "ledger.db"),
	"ledger.timezone":       "Local",
	"sync.debounce":         "5s",
	"sync.prune_interval":   "1h",
	"sync.change_retention": "24h",
	"sync.watch_files":      true,
	"log.file":              "",
	"log.max_size_mb":       10,
	"log.max_backups":       3,
	"log.max_age_days":      28,
	"dashboard.port":        8080,
}

// Keys returns every configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and decodes the result.
//
// When path is empty, stockledger.toml or stockledger.yaml is searched in
// the working directory and in DefaultDir; a missing file is not an error.
// An explicit path must exist.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stockledger")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration built from defaults alone.
func Default() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Source.Path == "" {
		return fmt.Errorf("source.path is required")
	}
	if c.Ledger.Driver == "" {
		return fmt.Errorf("ledger.driver is required")
	}
	if c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive (got %v)", c.Sync.Debounce)
	}
	if c.Source.PollInterval <= 0 {
		return fmt.Errorf("source.poll_interval must be positive (got %v)", c.Source.PollInterval)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range (got %d)", c.Dashboard.Port)
	}
	return nil
}

// Location resolves ledger.timezone, which dates ledger rows.
func (c *Config) Location() (*time.Location, error) {
	if c.Ledger.Timezone == "" || c.Ledger.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger.timezone %q: %w", c.Ledger.Timezone, err)
	}
	return loc, nil
}

// fileConfig is the on-disk TOML layout. Durations are written as strings
// so they read back through viper unchanged.
type fileConfig struct {
	Source struct {
		Path         string `toml:"path"`
		PollInterval string `toml:"poll_interval"`
	} `toml:"source"`
	Ledger struct {
		Driver   string `toml:"driver"`
		DSN      string `toml:"dsn"`
		Timezone string `toml:"timezone"`
	} `toml:"ledger"`
	Sync struct {
		Debounce        string `toml:"debounce"`
		PruneInterval   string `toml:"prune_interval"`
		ChangeRetention string `toml:"change_retention"`
		WatchFiles      bool   `toml:"watch_files"`
	} `toml:"sync"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`
	Dashboard struct {
		Port int `toml:"port"`
	} `toml:"dashboard"`
}

func toFile(c *Config) fileConfig {
	var f fileConfig
	f.Source.Path = c.Source.Path
	f.Source.PollInterval = c.Source.PollInterval.String()
	f.Ledger.Driver = c.Ledger.Driver
	f.Ledger.DSN = c.Ledger.DSN
	f.Ledger.Timezone = c.Ledger.Timezone
	f.Sync.Debounce = c.Sync.Debounce.String()
	f.Sync.PruneInterval = c.Sync.PruneInterval.String()
	f.Sync.ChangeRetention = c.Sync.ChangeRetention.String()
	f.Sync.WatchFiles = c.Sync.WatchFiles
	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Log.MaxAgeDays = c.Log.MaxAgeDays
	f.Dashboard.Port = c.Dashboard.Port
	return f
}

// WriteTOML writes c to path as TOML. An existing file is only replaced
// when force is set.
func WriteTOML(path string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := toml.NewEncoder(file).Encode(toFile(c)); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
