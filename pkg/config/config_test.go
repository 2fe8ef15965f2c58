package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3002, cfg.Server.Port)
	assert.Equal(t, ":3002", cfg.Server.Addr())
	assert.Equal(t, int64(100<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "cloudconvert", cfg.Provider.Name)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "https://api.cloudconvert.com/v2", cfg.Provider.CloudConvert.BaseURL)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "conversion:archive:queue", cfg.Redis.ArchiveQueue)
	assert.Equal(t, 30, cfg.Client.Attempts)
	assert.Equal(t, 5*time.Second, cfg.Client.Interval)
	assert.Equal(t, 120*time.Second, cfg.Client.UploadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Client.StatusTimeout)
	assert.Equal(t, 60*time.Second, cfg.Client.DownloadTimeout)
	assert.Equal(t, os.TempDir(), cfg.Worker.TempDir)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("CLOUDCONVERT_KEY", "secret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("WORKER_MAX_RETRIES", "7")
	t.Setenv("QUEUE_POLL_TIMEOUT", "2s")
	t.Setenv("CLIENT_ATTEMPTS", "12")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Provider.CloudConvert.Key)
	assert.Equal(t, "secret", cfg.Provider.Active().Key)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 7, cfg.Worker.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollTimeout)
	assert.Equal(t, 12, cfg.Client.Attempts)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  static_dir: web
provider:
  name: convertio
  convertio:
    key: from-file
store:
  driver: redis
archive:
  enabled: true
client:
  interval: 250ms
`), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "web", cfg.Server.StaticDir)
	assert.Equal(t, "convertio", cfg.Provider.Name)
	assert.Equal(t, "from-file", cfg.Provider.Active().Key)
	assert.Equal(t, "https://api.convertio.co", cfg.Provider.Active().BaseURL)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.Interval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad provider", func(c *Config) { c.Provider.Name = "zamzar" }},
		{"bad store", func(c *Config) { c.Store.Driver = "postgres" }},
		{"archive without redis", func(c *Config) { c.Archive.Enabled = true }},
		{"zero attempts", func(c *Config) { c.Client.Attempts = 0 }},
		{"no upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"negative retries", func(c *Config) { c.Worker.MaxRetries = -1 }},
		{"sub-second poll timeout", func(c *Config) { c.Worker.PollTimeout = 500 * time.Millisecond }},
		{"empty bucket", func(c *Config) { c.Minio.Bucket = " " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
