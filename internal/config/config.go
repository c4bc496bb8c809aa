// Package config loads the notebooksync command configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. NOTEBOOKSYNC_WS_URL.
const Prefix = "NOTEBOOKSYNC"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all command configuration.
type Config struct {
	WSURL     string `envconfig:"WS_URL" required:"true"`
	Token     string `envconfig:"TOKEN"`
	TokenFile string `envconfig:"TOKEN_FILE"`
	TabID     string `envconfig:"TAB_ID"`

	ReconnectDelayMin time.Duration `envconfig:"RECONNECT_DELAY_MIN" default:"1s"`
	ReconnectDelayMax time.Duration `envconfig:"RECONNECT_DELAY_MAX" default:"30s"`
	ReconnectAttempts int           `envconfig:"RECONNECT_ATTEMPTS" default:"0"`
	PingInterval      time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
	SubscribeTimeout  time.Duration `envconfig:"SUBSCRIBE_TIMEOUT" default:"0s"`
	RatePerSecond     float64       `envconfig:"RATE" default:"0"`
	RateBurst         int           `envconfig:"RATE_BURST" default:"8"`
	Priority          []string      `envconfig:"PRIORITY"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"text"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"50"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	u, err := url.Parse(c.WSURL)
	if err != nil {
		return fmt.Errorf("%w: %s_WS_URL: %v", ErrInvalid, Prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: %s_WS_URL must use ws or wss, got %q", ErrInvalid, Prefix, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s_WS_URL has no host", ErrInvalid, Prefix)
	}
	if c.Token != "" && c.TokenFile != "" {
		return fmt.Errorf("%w: set only one of %s_TOKEN and %s_TOKEN_FILE", ErrInvalid, Prefix, Prefix)
	}
	if c.ReconnectDelayMin <= 0 || c.ReconnectDelayMax < c.ReconnectDelayMin {
		return fmt.Errorf("%w: reconnect delays must satisfy 0 < min <= max (min %v, max %v)",
			ErrInvalid, c.ReconnectDelayMin, c.ReconnectDelayMax)
	}
	if c.ReconnectAttempts < 0 || c.SubscribeTimeout < 0 || c.PingInterval < 0 || c.RatePerSecond < 0 {
		return fmt.Errorf("%w: negative reconnect attempts, timeout, ping interval or rate", ErrInvalid)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %s_LOG_FORMAT must be text or json, got %q", ErrInvalid, Prefix, c.LogFormat)
	}
	for _, k := range c.Priority {
		switch strings.TrimSpace(k) {
		case "batch-table", "notebook", "file":
		default:
			return fmt.Errorf("%w: unknown kind %q in %s_PRIORITY", ErrInvalid, k, Prefix)
		}
	}
	return nil
}
