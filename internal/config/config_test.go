package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 48*time.Hour, cfg.EditWindow)
	assert.Equal(t, 7*time.Minute, cfg.DeleteWindow)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 120*time.Second, cfg.LivenessWindow)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL)
	assert.Equal(t, int64(25_000_000), cfg.MaxAttachmentSize)
}

func TestLoadConfigFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "huddle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
store: memory
max_attachment_size: 10MB
typing_ttl: 8s
allowed_origins:
  - https://a.example
  - https://b.example
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "env wins over file")
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, int64(10_000_000), cfg.MaxAttachmentSize)
	assert.Equal(t, 8*time.Second, cfg.TypingTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("EDIT_WINDOW", "two days")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "EDIT_WINDOW")
	})

	t.Run("heartbeat longer than liveness", func(t *testing.T) {
		t.Setenv("HEARTBEAT_INTERVAL", "3m")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "HEARTBEAT_INTERVAL")
	})

	t.Run("unknown store", func(t *testing.T) {
		t.Setenv("STORE", "mongo")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "STORE")
	})
}
