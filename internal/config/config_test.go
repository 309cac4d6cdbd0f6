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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotEmpty(t, cfg.Name)
	assert.Equal(t, "0.0.0.0", cfg.Listen.Address)
	assert.Equal(t, DefaultPort, cfg.Listen.Port)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Timeout)
	assert.Equal(t, DefaultPollInterval, cfg.Background.PollInterval)
	assert.Zero(t, cfg.Background.MaxLifetime, "background retry must be unbounded by default")
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Retry, cfg.Retry)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
name: alice
listen:
  port: 9000
retry:
  max_attempts: 5
  timeout: 500ms
background:
  poll_interval: 1m
  max_lifetime: 24h
download_dir: ~/inbox
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Name)
	assert.Equal(t, "0.0.0.0", cfg.Listen.Address)
	assert.Equal(t, 9000, cfg.Listen.Port)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Timeout)
	assert.Equal(t, time.Minute, cfg.Background.PollInterval)
	assert.Equal(t, DefaultProbeTimeout, cfg.Background.ProbeTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Background.MaxLifetime)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "inbox"), cfg.DownloadDir)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero attempts", "retry:\n  max_attempts: 0\n"},
		{"negative timeout", "retry:\n  timeout: -1s\n"},
		{"zero poll interval", "background:\n  poll_interval: 0s\n"},
		{"port out of range", "listen:\n  port: 70000\n"},
		{"empty name", "name: \"  \"\n"},
		{"malformed yaml", "retry: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDefaultPathHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/peer-drop/config.yaml", DefaultPath())
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/peer-drop"}
	assert.Equal(t, "/var/lib/peer-drop/peer-drop.sqlite3", cfg.DBPath())
	assert.Equal(t, "/var/lib/peer-drop/logs", cfg.LogDir())
}
