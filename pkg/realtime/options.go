package realtime

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/transport"
)

type clientConfig struct {
	logger           *slog.Logger
	registerer       prometheus.Registerer
	priority         []topic.Kind
	subscribeTimeout time.Duration
	transportOpts    []transport.Option
	tabID            string
}

// Option configures a Client.
type Option func(*clientConfig)

// WithLogger sets the logger shared by the client and its components.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegisterer registers the client's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *clientConfig) {
		c.registerer = reg
	}
}

// WithPriority sets which target kind is requested first after
// authentication.
func WithPriority(kinds ...topic.Kind) Option {
	return func(c *clientConfig) {
		c.priority = kinds
	}
}

// WithSubscribeTimeout fails subscriptions not confirmed within d. Zero
// waits forever.
func WithSubscribeTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.subscribeTimeout = d
	}
}

// WithTransportOptions passes options to the connection manager.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// WithTabID fixes the tab id stamped on outbound envelopes.
func WithTabID(id string) Option {
	return func(c *clientConfig) {
		if id != "" {
			c.tabID = id
		}
	}
}
