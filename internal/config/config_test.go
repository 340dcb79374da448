package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", testLogger())
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, ":7443", cfg.Address())
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(1<<20), cfg.Session.MaxMessageSize)
	assert.Equal(t, 10*time.Second, cfg.Session.WriteTimeout)
	assert.Equal(t, 256, cfg.Session.SendQueue)
	assert.Equal(t, "settings.db", cfg.Settings.DBPath)
	assert.Equal(t, 2, cfg.Contacts.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.Path())
	assert.Empty(t, cfg.Dir())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9000
  trusted_proxies: [10.0.0.0/8]
session:
  read_timeout: 5s
permissions:
  trusted_identities: [uds, admin]
  jwt_secret: s3cret
settings:
  defaults_path: /etc/apid/defaults.json
log:
  level: debug
  format: json
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Address())
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, 5*time.Second, cfg.Session.ReadTimeout)
	assert.Equal(t, []string{"uds", "admin"}, cfg.Permissions.TrustedIdentities)
	assert.Equal(t, "s3cret", cfg.Permissions.JWTSecret)
	assert.Equal(t, "/etc/apid/defaults.json", cfg.Settings.DefaultsPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, filepath.Dir(path), cfg.Dir())

	// Untouched keys keep their defaults.
	assert.Equal(t, 256, cfg.Session.SendQueue)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("APID_SERVER_PORT", "9100")
	t.Setenv("APID_SESSION_SEND_QUEUE", "8")
	t.Setenv("APID_PERMISSIONS_TRUSTED_IDENTITIES", "uds,root")
	t.Setenv("APID_TRACING_ENABLED", "true")

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Session.SendQueue)
	assert.Equal(t, []string{"uds", "root"}, cfg.Permissions.TrustedIdentities)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"zero message size", "session:\n  max_message_size: 0\n"},
		{"zero send queue", "session:\n  send_queue: 0\n"},
		{"no settings workers", "settings:\n  workers: 0\n"},
		{"negative contacts queue", "contacts:\n  queue: -1\n"},
		{"unknown log format", "log:\n  format: xml\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body), testLogger())
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	loader := NewLoader(path, testLogger())
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)

	var mu sync.Mutex
	var level string
	loader.OnChange(func(c *Config) {
		mu.Lock()
		level = c.Log.Level
		mu.Unlock()
	})
	loader.Watch()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return level == "debug"
	}, 5*time.Second, 20*time.Millisecond)
}
