package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, 60, cfg.Monitor.CheckIntervalMin)
		assert.Equal(t, 180, cfg.Monitor.CheckIntervalMax)
		assert.Equal(t, 2*time.Second, cfg.Monitor.ProductDelayMin)
		assert.Equal(t, 5*time.Second, cfg.Monitor.ProductDelayMax)
		assert.Equal(t, 90*time.Second, cfg.Monitor.CheckTimeout)
		assert.False(t, cfg.Monitor.ReconnectOnFatal)
		assert.True(t, cfg.Browser.Headless)
		assert.Equal(t, 1920, cfg.Browser.ViewportWidth)
		assert.Equal(t, "screenshots", cfg.Browser.ScreenshotDir)
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.False(t, cfg.Database.Enabled)
		assert.False(t, cfg.HasNotifier())
	})

	t.Run("prefixed environment", func(t *testing.T) {
		t.Setenv("STOCKMON_SERVER_PORT", "9090")
		t.Setenv("STOCKMON_MONITOR_RECONNECT_ON_FATAL", "true")
		t.Setenv("STOCKMON_MONITOR_RECONNECT_DELAY", "2m")
		t.Setenv("STOCKMON_BROWSER_HEADLESS", "false")
		t.Setenv("STOCKMON_NOTIFY_STREAM_ENABLED", "true")
		t.Setenv("STOCKMON_LOGGING_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "9090", cfg.Server.Port)
		assert.True(t, cfg.Monitor.ReconnectOnFatal)
		assert.Equal(t, 2*time.Minute, cfg.Monitor.ReconnectDelay)
		assert.False(t, cfg.Browser.Headless)
		assert.True(t, cfg.Notify.Stream.Enabled)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.HasNotifier())
	})

	t.Run("legacy variables", func(t *testing.T) {
		t.Setenv("DISCORD_TOKEN", "bot-token")
		t.Setenv("CHECK_INTERVAL_MIN", "300")
		t.Setenv("CHECK_INTERVAL_MAX", "600")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "bot-token", cfg.Notify.Discord.Token)
		assert.Equal(t, 300*time.Second, cfg.Monitor.CycleDelay().Min)
		assert.Equal(t, 600*time.Second, cfg.Monitor.CycleDelay().Max)
	})

	t.Run("prefixed wins over legacy", func(t *testing.T) {
		t.Setenv("DISCORD_TOKEN", "legacy")
		t.Setenv("STOCKMON_NOTIFY_DISCORD_TOKEN", "prefixed")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "prefixed", cfg.Notify.Discord.Token)
	})

	t.Run("invalid interval bounds", func(t *testing.T) {
		t.Setenv("CHECK_INTERVAL_MIN", "600")
		t.Setenv("CHECK_INTERVAL_MAX", "300")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("invalid log format", func(t *testing.T) {
		t.Setenv("STOCKMON_LOGGING_FORMAT", "xml")

		_, err := Load()
		assert.ErrorContains(t, err, "logging.format")
	})
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
monitor:
  check_interval_min: 30
  check_interval_max: 45
browser:
  user_agents:
    - agent-a
    - agent-b
database:
  enabled: true
  name: checks
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Monitor.CheckIntervalMin)
	assert.Equal(t, 45, cfg.Monitor.CheckIntervalMax)
	assert.Equal(t, []string{"agent-a", "agent-b"}, cfg.Browser.UserAgents)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "checks", cfg.Database.Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Monitor.CheckIntervalMin = 0 }},
		{"product delay swapped", func(c *Config) { c.Monitor.ProductDelayMin = 10 * time.Second }},
		{"no check timeout", func(c *Config) { c.Monitor.CheckTimeout = 0 }},
		{"navigation delay swapped", func(c *Config) { c.Browser.NavigationDelayMin = time.Minute }},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
		{"stream without redis", func(c *Config) {
			c.Notify.Stream.Enabled = true
			c.Redis.Addr = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
