package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

type connConfig struct {
	logger            *slog.Logger
	dialOptions       *websocket.DialOptions
	dialTimeout       time.Duration
	writeTimeout      time.Duration
	readLimit         int64
	pingInterval      time.Duration
	sendBuffer        int
	autoReconnect     bool
	reconnectAttempts int
	reconnectDelayMin time.Duration
	reconnectDelayMax time.Duration
	rateLimit         rate.Limit
	rateBurst         int
}

func defaultConfig() connConfig {
	return connConfig{
		logger:            slog.Default(),
		dialOptions:       &websocket.DialOptions{HTTPClient: http.DefaultClient},
		dialTimeout:       defaultDialTimeout,
		writeTimeout:      defaultWriteTimeout,
		readLimit:         defaultReadLimit,
		sendBuffer:        defaultSendBuffer,
		reconnectDelayMin: defaultReconnectDelayMin,
		reconnectDelayMax: defaultReconnectDelayMax,
		rateLimit:         rate.Inf,
		rateBurst:         1,
	}
}

func (c *connConfig) normalize() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.dialOptions == nil {
		c.dialOptions = &websocket.DialOptions{HTTPClient: http.DefaultClient}
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = defaultDialTimeout
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	if c.readLimit <= 0 {
		c.readLimit = defaultReadLimit
	}
	if c.pingInterval < 0 {
		c.pingInterval = 0
	}
	if c.sendBuffer <= 0 {
		c.sendBuffer = defaultSendBuffer
	}
	if c.reconnectDelayMin <= 0 {
		c.reconnectDelayMin = defaultReconnectDelayMin
	}
	if c.reconnectDelayMax <= 0 {
		c.reconnectDelayMax = defaultReconnectDelayMax
	}
	if c.reconnectDelayMax < c.reconnectDelayMin {
		c.reconnectDelayMax = c.reconnectDelayMin
	}
	if c.rateBurst <= 0 {
		c.rateBurst = 1
	}
}

// Option configures a Conn.
type Option func(*connConfig)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *connConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDialOptions sets the options passed to websocket.Dial, e.g. headers
// carrying a session cookie.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *connConfig) {
		c.dialOptions = opts
	}
}

// WithDialTimeout bounds each connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *connConfig) {
		c.dialTimeout = d
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *connConfig) {
		c.writeTimeout = d
	}
}

// WithReadLimit sets the largest inbound frame accepted, in bytes.
func WithReadLimit(n int64) Option {
	return func(c *connConfig) {
		c.readLimit = n
	}
}

// WithPingInterval enables keepalive pings. Zero disables them.
func WithPingInterval(d time.Duration) Option {
	return func(c *connConfig) {
		c.pingInterval = d
	}
}

// WithSendBuffer sets the outbound queue length.
func WithSendBuffer(n int) Option {
	return func(c *connConfig) {
		c.sendBuffer = n
	}
}

// WithAutoReconnect enables reconnection with exponential backoff between
// minDelay and maxDelay. maxAttempts of zero retries forever.
func WithAutoReconnect(maxAttempts int, minDelay, maxDelay time.Duration) Option {
	return func(c *connConfig) {
		c.autoReconnect = true
		c.reconnectAttempts = maxAttempts
		c.reconnectDelayMin = minDelay
		c.reconnectDelayMax = maxDelay
	}
}

// WithRateLimit caps outbound frames per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *connConfig) {
		if perSecond <= 0 {
			c.rateLimit = rate.Inf
			return
		}
		c.rateLimit = rate.Limit(perSecond)
		c.rateBurst = burst
	}
}
