package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  address: ":9090"
redis:
  enabled: true
  address: "redis:6379"
  pool_size: 5
media:
  video_enabled: false
  settle_delay: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.False(t, cfg.Media.VideoEnabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Media.SettleDelay)
	// Unmentioned sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STREAMGATE_SERVER_ADDRESS", ":7070")
	t.Setenv("STREAMGATE_REDIS_ADDRESS", "override:6379")
	t.Setenv("STREAMGATE_JWT_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "override:6379", cfg.Redis.Address)
	assert.True(t, cfg.Redis.Enabled, "redis address override implies enabled")
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"zero access token ttl", func(c *Config) { c.Auth.AccessTokenTTL = 0 }},
		{"zero session check interval", func(c *Config) { c.Auth.SessionCheckInterval = 0 }},
		{"zero join timeout", func(c *Config) { c.Media.JoinTimeout = 0 }},
		{"negative settle delay", func(c *Config) { c.Media.SettleDelay = -time.Second }},
		{"zero profile cache ttl", func(c *Config) { c.Availability.ProfileCacheTTL = 0 }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"reconciler enabled without interval", func(c *Config) {
			c.Reconciler.Enabled = true
			c.Reconciler.Interval = 0
		}},
		{"rate limiting enabled without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
		{"tracing enabled with bad sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2.0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
