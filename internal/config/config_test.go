package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NOTEBOOKSYNC_WS_URL", "wss://push.example.com/ws")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://push.example.com/ws", cfg.WSURL)
	assert.Equal(t, time.Second, cfg.ReconnectDelayMin)
	assert.Equal(t, 30*time.Second, cfg.ReconnectDelayMax)
	assert.Equal(t, time.Duration(0), cfg.SubscribeTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NOTEBOOKSYNC_WS_URL", "ws://localhost:8080/ws")
	t.Setenv("NOTEBOOKSYNC_TOKEN_FILE", "/run/secrets/token")
	t.Setenv("NOTEBOOKSYNC_SUBSCRIBE_TIMEOUT", "15s")
	t.Setenv("NOTEBOOKSYNC_PRIORITY", "notebook,batch-table")
	t.Setenv("NOTEBOOKSYNC_RATE", "20")
	t.Setenv("NOTEBOOKSYNC_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/run/secrets/token", cfg.TokenFile)
	assert.Equal(t, 15*time.Second, cfg.SubscribeTimeout)
	assert.Equal(t, []string{"notebook", "batch-table"}, cfg.Priority)
	assert.InDelta(t, 20.0, cfg.RatePerSecond, 0.001)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRequiresURL(t *testing.T) {
	t.Setenv("NOTEBOOKSYNC_WS_URL", "")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			WSURL:             "wss://push.example.com/ws",
			ReconnectDelayMin: time.Second,
			ReconnectDelayMax: time.Minute,
			LogFormat:         "text",
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http scheme", func(c *Config) { c.WSURL = "https://push.example.com" }},
		{"no host", func(c *Config) { c.WSURL = "ws:///path" }},
		{"unparseable", func(c *Config) { c.WSURL = "ws://[::1" }},
		{"token and file", func(c *Config) { c.Token, c.TokenFile = "a", "b" }},
		{"max below min", func(c *Config) { c.ReconnectDelayMax = time.Millisecond }},
		{"negative timeout", func(c *Config) { c.SubscribeTimeout = -time.Second }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad priority", func(c *Config) { c.Priority = []string{"project"} }},
	}

	base := valid()
	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}
