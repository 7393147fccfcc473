/*
Package config loads the delivery tracker configuration.

FILE FORMAT (YAML):
  listen: ":8080"
  startup_mode: strict        # strict | best-effort
  timezone: Local             # IANA name; logical days are cut in this zone
  remote:
    driver: sqlite3           # sqlite3 | postgres
    dsn: ./data/remote.db
    timeout: 10s
  cache:
    path: ./data/cache.db     # empty: in-memory only
  refresh:
    interval: 60s
  cleanup:
    enabled: true
    hour: 23
    check_interval: 1h
  changefeed:
    brokers: []               # empty: no change feed
    topic: delivery-tracker.changes
  cors:
    allowed_origins: ["*"]

ENVIRONMENT OVERRIDES:
  TRACKER_REMOTE_DRIVER, TRACKER_REMOTE_DSN, TRACKER_LISTEN,
  TRACKER_STARTUP_MODE
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration.
type Config struct {
	Listen      string           `yaml:"listen"`
	StartupMode string           `yaml:"startup_mode"`
	Timezone    string           `yaml:"timezone"`
	Remote      RemoteConfig     `yaml:"remote"`
	Cache       CacheConfig      `yaml:"cache"`
	Refresh     RefreshConfig    `yaml:"refresh"`
	Cleanup     CleanupConfig    `yaml:"cleanup"`
	Changefeed  ChangefeedConfig `yaml:"changefeed"`
	CORS        CORSConfig       `yaml:"cors"`
}

// RemoteConfig selects the remote store.
type RemoteConfig struct {
	Driver  string        `yaml:"driver"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig locates the local cache file.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// RefreshConfig controls periodic refresh.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// CleanupConfig controls the retention scheduler.
type CleanupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Hour          int           `yaml:"hour"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ChangefeedConfig enables the Kafka change feed when brokers are set.
type ChangefeedConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// CORSConfig lists the origins allowed to call the HTTP API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:      ":8080",
		StartupMode: "strict",
		Timezone:    "Local",
		Remote: RemoteConfig{
			Driver:  "sqlite3",
			DSN:     "./data/remote.db",
			Timeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Path: "./data/cache.db",
		},
		Refresh: RefreshConfig{
			Interval: 60 * time.Second,
		},
		Cleanup: CleanupConfig{
			Enabled:       true,
			Hour:          23,
			CheckInterval: time.Hour,
		},
		Changefeed: ChangefeedConfig{
			Topic: "delivery-tracker.changes",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRACKER_REMOTE_DRIVER"); v != "" {
		cfg.Remote.Driver = v
	}
	if v := os.Getenv("TRACKER_REMOTE_DSN"); v != "" {
		cfg.Remote.DSN = v
	}
	if v := os.Getenv("TRACKER_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TRACKER_STARTUP_MODE"); v != "" {
		cfg.StartupMode = v
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.StartupMode {
	case "strict", "best-effort":
	default:
		return fmt.Errorf("startup_mode must be strict or best-effort, got %q", c.StartupMode)
	}
	switch c.Remote.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("remote.driver must be sqlite3 or postgres, got %q", c.Remote.Driver)
	}
	if c.Remote.DSN == "" {
		return errors.New("remote.dsn must be set")
	}
	if c.Remote.Timeout < 0 {
		return errors.New("remote.timeout must not be negative")
	}
	if c.Refresh.Interval <= 0 {
		return errors.New("refresh.interval must be positive")
	}
	if c.Cleanup.Hour < 0 || c.Cleanup.Hour > 23 {
		return fmt.Errorf("cleanup.hour must be between 0 and 23, got %d", c.Cleanup.Hour)
	}
	if c.Cleanup.Enabled && c.Cleanup.CheckInterval <= 0 {
		return errors.New("cleanup.check_interval must be positive")
	}
	if len(c.Changefeed.Brokers) > 0 && c.Changefeed.Topic == "" {
		return errors.New("changefeed.topic must be set when brokers are configured")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
