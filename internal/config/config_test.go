package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8765, c.Server.Port)
	assert.Equal(t, "EXT", c.Relay.Source)
	assert.Equal(t, 3*time.Second, c.Relay.FetchTimeout)
	assert.Zero(t, c.Relay.SubmitTimeout)
	assert.Equal(t, time.Second, c.Page.PollInterval)
	assert.Equal(t, 1500*time.Millisecond, c.Page.FeedbackDelay)
	assert.Equal(t, 2*time.Second, c.Popup.StatusRevertDelay)
	assert.Equal(t, "disk", c.Storage.Type)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relay:
  source: CLI
  fetch_timeout: 500ms
storage:
  type: sqlite
  sqlite_path: /tmp/x.db
`), 0o644))

	t.Setenv("RELAY_STORAGE_TYPE", "redis")
	t.Setenv("RELAY_SERVER_PORT", "9000")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "CLI", c.Relay.Source)
	assert.Equal(t, 500*time.Millisecond, c.Relay.FetchTimeout)
	assert.Equal(t, "redis", c.Storage.Type)
	assert.Equal(t, "/tmp/x.db", c.Storage.SQLitePath)
	assert.Equal(t, 9000, c.Server.Port)
}

func TestLoadEnvWithoutFile(t *testing.T) {
	t.Setenv("RELAY_STORAGE_REDIS_PASSWORD", "hunter2")
	t.Setenv("RELAY_STORAGE_REDIS_DB", "3")
	t.Setenv("RELAY_CORS_ALLOW_CREDENTIALS", "true")

	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "hunter2", c.Storage.RedisPassword)
	assert.Equal(t, 3, c.Storage.RedisDB)
	assert.True(t, c.CORS.AllowCredentials)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
