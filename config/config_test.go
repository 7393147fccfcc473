package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 60*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 23, cfg.Cleanup.Hour)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
startup_mode: best-effort
timezone: UTC
remote:
  driver: postgres
  dsn: postgres://tracker@localhost/tracker?sslmode=disable
  timeout: 3s
refresh:
  interval: 30s
cleanup:
  hour: 22
changefeed:
  brokers: ["localhost:9092"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "best-effort", cfg.StartupMode)
	assert.Equal(t, "postgres", cfg.Remote.Driver)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 22, cfg.Cleanup.Hour)
	assert.True(t, cfg.Cleanup.Enabled, "unset keys keep defaults")
	assert.Equal(t, []string{"localhost:9092"}, cfg.Changefeed.Brokers)
	assert.Equal(t, "delivery-tracker.changes", cfg.Changefeed.Topic)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRACKER_REMOTE_DSN", "file:override.db")
	t.Setenv("TRACKER_LISTEN", ":7070")
	t.Setenv("TRACKER_STARTUP_MODE", "best-effort")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "file:override.db", cfg.Remote.DSN)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "best-effort", cfg.StartupMode)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "listen: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"startup mode", func(c *Config) { c.StartupMode = "lazy" }, "startup_mode"},
		{"driver", func(c *Config) { c.Remote.Driver = "mysql" }, "remote.driver"},
		{"dsn", func(c *Config) { c.Remote.DSN = "" }, "remote.dsn"},
		{"interval", func(c *Config) { c.Refresh.Interval = 0 }, "refresh.interval"},
		{"hour", func(c *Config) { c.Cleanup.Hour = 24 }, "cleanup.hour"},
		{"check interval", func(c *Config) { c.Cleanup.CheckInterval = 0 }, "cleanup.check_interval"},
		{"topic", func(c *Config) { c.Changefeed.Brokers = []string{"b:9092"}; c.Changefeed.Topic = "" }, "changefeed.topic"},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
	assert.NoError(t, Default().Validate())
}
