// Package realtime is the synchronization client. One goroutine owns the
// protocol state machine; transport callbacks, public calls, token refreshes
// and timers only enqueue inputs for it, so transitions never interleave.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightforgemedia/go-notebooksync/pkg/model"
	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/router"
	"github.com/lightforgemedia/go-notebooksync/pkg/surface"
	"github.com/lightforgemedia/go-notebooksync/pkg/token"
	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/transport"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

var (
	// ErrNotStarted is returned by calls that need a running client.
	ErrNotStarted = errors.New("realtime: client not started")
	// ErrNotReady is returned when a command needs an authenticated connection.
	ErrNotReady = errors.New("realtime: connection not authenticated")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("realtime: client closed")
)

// Notifier shows user-visible notices.
type Notifier interface {
	Notify(title, description string, severity protocol.Severity)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, description string, severity protocol.Severity)

// Notify calls f.
func (f NotifierFunc) Notify(title, description string, severity protocol.Severity) {
	f(title, description, severity)
}

// Collaborators are the stores and sinks the client writes into.
type Collaborators struct {
	Notebooks     router.Cache[model.Notebook]
	BatchTables   router.Cache[model.BatchTable]
	Conversations router.Cache[model.BotConversation]
	Surfaces      *surface.Registry
	Notifier      Notifier
}

// inbound is a frame read from one connection.
type inbound struct {
	handle transport.Handle
	raw    []byte
}

// outbound is an ad-hoc command from a public call.
type outbound struct {
	cmd   wire.Command
	reply chan error
}

// authUnavailable reports that no new token could be obtained.
type authUnavailable struct {
	err error
}

// Client keeps one logical connection synchronized with the push server.
type Client struct {
	url      string
	tokens   token.Source
	router   *router.Router
	surfaces *surface.Registry
	notifier Notifier
	config   clientConfig
	logger   *slog.Logger
	metrics  *Metrics

	machine  *protocol.Machine
	inbox    *inbox
	snapshot atomic.Pointer[protocol.Snapshot]

	conn *transport.Conn
	// connSet is closed once conn is assigned; the loop waits for it.
	connSet chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

// New builds a client for the push server at url. Nothing connects until
// Start.
func New(url string, tokens token.Source, c Collaborators, opts ...Option) *Client {
	cfg := clientConfig{logger: slog.Default(), tabID: wire.GenerateID()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if tokens == nil {
		tokens = token.Static("")
	}
	surfaces := c.Surfaces
	if surfaces == nil {
		surfaces = surface.NewRegistry(cfg.logger)
	}
	notifier := c.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(string, string, protocol.Severity) {})
	}
	logger := cfg.logger.With("tab_id", cfg.tabID)

	cl := &Client{
		url:      url,
		tokens:   tokens,
		surfaces: surfaces,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		metrics:  NewMetrics(cfg.registerer),
		machine: protocol.NewMachine(
			protocol.WithPriority(cfg.priority...),
			protocol.WithSubscribeTimeout(cfg.subscribeTimeout),
		),
		inbox:   newInbox(),
		connSet: make(chan struct{}),
		timers:  make(map[*time.Timer]struct{}),
	}
	cl.router = router.New(router.Collaborators{
		Notebooks:     c.Notebooks,
		BatchTables:   c.BatchTables,
		Conversations: c.Conversations,
		Surfaces:      surfaces,
	}, router.WithLogger(logger))
	cl.publish()
	return cl
}

// TabID returns the id stamped on every outbound envelope.
func (c *Client) TabID() string {
	return c.config.tabID
}

// Surfaces returns the edit-surface registry autocomplete answers go to.
func (c *Client) Surfaces() *surface.Registry {
	return c.surfaces
}

// Metrics returns the client's collectors.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Start loads the initial token, starts the event loop and opens the
// connection. Desires registered before Start are queued and sent once the
// connection is authenticated.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("realtime: client already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	tok, err := c.tokens.Token(c.ctx)
	switch {
	case err == nil:
		c.inbox.push(protocol.TokenRefreshed{Token: tok})
	case errors.Is(err, token.ErrNoToken):
		c.logger.Info("starting without a token; relying on session authentication")
	default:
		c.cancel()
		return fmt.Errorf("realtime: load token: %w", err)
	}

	c.wg.Add(1)
	go c.loop()

	opts := append([]transport.Option{transport.WithLogger(c.logger)}, c.config.transportOpts...)
	conn, err := transport.Dial(c.ctx, c.url, handler{c}, opts...)
	if err != nil {
		c.cancel()
		c.wg.Wait()
		return fmt.Errorf("realtime: connect: %w", err)
	}
	c.conn = conn
	close(c.connSet)
	return nil
}

// Close stops the loop and the connection. A closed client cannot restart.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if !c.started.Load() {
		return nil
	}
	c.cancel()
	if c.conn != nil {
		c.conn.Close()
	}
	c.wg.Wait()

	c.timersMu.Lock()
	for t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	c.timersMu.Unlock()
	c.logger.Info("client closed")
	return nil
}

// State returns the latest snapshot of the state machine.
func (c *Client) State() protocol.Snapshot {
	return *c.snapshot.Load()
}

// SubscribeBatchTable makes id the desired batch table.
func (c *Client) SubscribeBatchTable(id int64) {
	c.inbox.push(protocol.SubscribeToBatchTable(id))
}

// SubscribeNotebook makes the notebook and its assistant conversation the
// desired pair. A zero conversationID subscribes to the notebook only.
func (c *Client) SubscribeNotebook(notebookID, conversationID int64) {
	c.inbox.push(protocol.SubscribeToNotebookAndBotConversation(notebookID, conversationID))
}

// SubscribeFile makes id the desired file.
func (c *Client) SubscribeFile(id int64) {
	c.inbox.push(protocol.SubscribeToFile(id))
}

// Unsubscribe drops the desired target of kind.
func (c *Client) Unsubscribe(kind topic.Kind) {
	c.inbox.push(protocol.Desire{Kind: kind})
}

// SetContext replaces every desired target at once. Kinds not listed are
// dropped.
func (c *Client) SetContext(targets ...topic.Target) {
	c.inbox.push(protocol.DesireContext{Targets: append([]topic.Target(nil), targets...)})
}

// RequestSQLAutocomplete asks for completions for a mounted edit surface.
// The answer is delivered to the surface's sink.
func (c *Client) RequestSQLAutocomplete(ctx context.Context, surfaceID, sql string, cursor int) error {
	p, err := c.surfaces.Request(surfaceID, sql, cursor)
	if err != nil {
		return err
	}
	return c.submit(ctx, wire.SQLAutocomplete(p))
}

// StopStreamingGeneration stops the answer being streamed into a
// conversation.
func (c *Client) StopStreamingGeneration(ctx context.Context, projectID, conversationID int64) error {
	return c.submit(ctx, wire.StopStreamingGeneration(projectID, conversationID))
}

func (c *Client) submit(ctx context.Context, cmd wire.Command) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.started.Load() {
		return ErrNotStarted
	}
	reply := make(chan error, 1)
	c.inbox.push(outbound{cmd: cmd, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}
