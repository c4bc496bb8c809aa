// Package transport owns the WebSocket connection to the push server. It
// reports open/close/error/message events to a Handler and reconnects with
// exponential backoff; it knows nothing about what the messages mean.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

const (
	defaultSendBuffer        = 64
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReadLimit         = 4 << 20
	defaultReconnectDelayMin = 1 * time.Second
	defaultReconnectDelayMax = 30 * time.Second
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: connection manager closed")
	// ErrStaleHandle is returned when sending on a connection that is gone.
	ErrStaleHandle = errors.New("transport: stale connection handle")
	// ErrNotConnected is returned when no socket is open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrSendBufferFull is returned when the outbound queue stays full.
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// Handle identifies one opened socket. Zero means no connection. A Handle
// is never reused within a Conn.
type Handle uint64

// Handler receives connection events. Implementations must not block:
// callbacks run on the transport's goroutines. OnOpen must not call Close.
type Handler interface {
	OnOpen(h Handle)
	OnClose(h Handle, reason string)
	OnError(h Handle, err error)
	OnMessage(h Handle, raw []byte)
}

type outbound struct {
	handle Handle
	env    *wire.Envelope
}

// Conn is the connection manager. It keeps at most one live socket and
// replaces it on failure when auto-reconnect is enabled.
type Conn struct {
	config  connConfig
	url     string
	handler Handler
	limiter *rate.Limiter

	conn       *websocket.Conn
	handle     Handle
	lastHandle Handle
	connMu     sync.RWMutex

	send chan outbound

	ctx    context.Context
	cancel context.CancelFunc

	// per-socket pump lifetime, replaced on reconnect
	pumpCtx    context.Context
	pumpCancel context.CancelFunc
	pumpWg     sync.WaitGroup

	closed   bool
	closedMu sync.Mutex

	reconnectingMu sync.Mutex
	reconnecting   bool
}

// Dial opens a connection to url and reports its events to handler. With
// auto-reconnect enabled, a failed first attempt is retried in the
// background and Dial returns the Conn without error.
func Dial(ctx context.Context, url string, handler Handler, opts ...Option) (*Conn, error) {
	if handler == nil {
		return nil, errors.New("transport: handler must not be nil")
	}
	c := &Conn{
		config:  defaultConfig(),
		url:     url,
		handler: handler,
	}
	for _, opt := range opts {
		opt(&c.config)
	}
	c.config.normalize()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.send = make(chan outbound, c.config.sendBuffer)
	c.limiter = rate.NewLimiter(c.config.rateLimit, c.config.rateBurst)

	if err := c.establish(); err != nil {
		c.config.logger.Info("initial connection failed", "url", url, "error", err)
		if !c.config.autoReconnect {
			c.Close()
			return nil, fmt.Errorf("transport: initial connection failed and auto-reconnect disabled: %w", err)
		}
		go c.reconnectLoop()
	}
	return c, nil
}

func (c *Conn) establish() error {
	if c.isClosed() {
		return ErrClosed
	}

	c.connMu.Lock()
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.connMu.Unlock()
		c.pumpWg.Wait()
		c.connMu.Lock()
	}
	if c.conn != nil {
		c.conn.Close(websocket.StatusAbnormalClosure, "stale connection being replaced")
		c.conn = nil
		c.handle = 0
	}
	c.connMu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(c.ctx, c.config.dialTimeout)
	ws, resp, err := websocket.Dial(dialCtx, c.url, c.config.dialOptions)
	dialCancel()
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status: %s)", c.url, err, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	ws.SetReadLimit(c.config.readLimit)

	// closedMu is held until the pumps are registered and OnOpen has run, so
	// Close either sees them in pumpWg or this socket sees closed.
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	if c.closed {
		ws.Close(websocket.StatusNormalClosure, "client initiated close")
		return ErrClosed
	}
	c.connMu.Lock()
	c.lastHandle++
	h := c.lastHandle
	c.conn = ws
	c.handle = h
	c.pumpCtx, c.pumpCancel = context.WithCancel(c.ctx)
	pumpCtx := c.pumpCtx
	c.connMu.Unlock()

	c.config.logger.Info("connected", "url", c.url, "handle", h)
	c.handler.OnOpen(h)

	c.pumpWg.Add(2)
	go c.readPump(pumpCtx, ws, h)
	go c.writePump(pumpCtx, ws, h)
	if c.config.pingInterval > 0 {
		c.pumpWg.Add(1)
		go c.pingLoop(pumpCtx, ws, h)
	}
	return nil
}

// Handle returns the live connection handle, or zero.
func (c *Conn) Handle() Handle {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.handle
}

// Send queues env for the connection identified by h.
func (c *Conn) Send(h Handle, env *wire.Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	cur := c.Handle()
	if cur == 0 {
		return ErrNotConnected
	}
	if h != cur {
		return ErrStaleHandle
	}
	select {
	case c.send <- outbound{handle: h, env: env}:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-time.After(c.config.writeTimeout / 2):
		return fmt.Errorf("%w: %s", ErrSendBufferFull, env.MessageType)
	}
}

func (c *Conn) readPump(ctx context.Context, ws *websocket.Conn, h Handle) {
	reason := "connection closed"
	defer func() {
		c.config.logger.Info("read pump stopping", "handle", h, "reason", reason)
		c.connMu.Lock()
		if c.handle == h {
			c.pumpCancel()
			c.conn = nil
			c.handle = 0
		}
		c.connMu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "read pump terminated")
		c.pumpWg.Done()

		c.handler.OnClose(h, reason)

		if c.config.autoReconnect && !c.isClosed() {
			go c.reconnectLoop()
		}
	}()

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case ctx.Err() != nil:
				reason = "connection context cancelled"
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				reason = fmt.Sprintf("closed by server (status %d)", status)
			default:
				reason = err.Error()
				c.handler.OnError(h, err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.config.logger.Warn("dropping non-text frame", "handle", h, "type", typ.String(), "bytes", len(data))
			continue
		}
		c.handler.OnMessage(h, data)
	}
}

func (c *Conn) writePump(ctx context.Context, ws *websocket.Conn, h Handle) {
	defer c.pumpWg.Done()
	for {
		select {
		case msg := <-c.send:
			if msg.handle != h {
				c.config.logger.Debug("dropping envelope queued for previous connection",
					"message_type", msg.env.MessageType, "handle", msg.handle)
				continue
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, c.config.writeTimeout)
			err := wsjson.Write(writeCtx, ws, msg.env)
			cancel()
			if err != nil {
				c.config.logger.Info("write failed", "handle", h, "message_type", msg.env.MessageType, "error", err)
				c.handler.OnError(h, err)
				// the read pump observes the cancellation and reports the close
				c.connMu.Lock()
				if c.handle == h {
					c.pumpCancel()
				}
				c.connMu.Unlock()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, ws *websocket.Conn, h Handle) {
	defer c.pumpWg.Done()
	ticker := time.NewTicker(c.config.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.config.pingInterval/2)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.config.logger.Info("ping failed", "handle", h, "error", err)
				c.connMu.Lock()
				if c.handle == h {
					c.pumpCancel()
				}
				c.connMu.Unlock()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) reconnectLoop() {
	c.reconnectingMu.Lock()
	if c.reconnecting {
		c.reconnectingMu.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectingMu.Unlock()
	defer func() {
		c.reconnectingMu.Lock()
		c.reconnecting = false
		c.reconnectingMu.Unlock()
	}()

	attempts := 0
	delay := c.config.reconnectDelayMin
	for {
		if c.isClosed() {
			return
		}
		if c.config.reconnectAttempts > 0 && attempts >= c.config.reconnectAttempts {
			c.config.logger.Warn("max reconnect attempts reached", "attempts", attempts)
			c.Close()
			return
		}

		wait := withJitter(delay)
		c.config.logger.Info("waiting before reconnect", "delay", wait, "attempt", attempts+1)
		select {
		case <-time.After(wait):
		case <-c.ctx.Done():
			return
		}

		err := c.establish()
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		c.config.logger.Info("reconnect attempt failed", "attempt", attempts+1, "error", err)
		attempts++
		delay *= 2
		if delay > c.config.reconnectDelayMax {
			delay = c.config.reconnectDelayMax
		}
	}
}

// withJitter adds up to 25% of d so clients do not retry in lockstep.
func withJitter(d time.Duration) time.Duration {
	span := int64(d / 4)
	if span <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(span))
}

func (c *Conn) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}

// Close stops reconnecting and closes the live socket. It is permanent.
func (c *Conn) Close() error {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.closedMu.Unlock()

	c.cancel()
	c.pumpWg.Wait()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "client initiated close")
		c.conn = nil
		c.handle = 0
	}
	c.connMu.Unlock()
	c.config.logger.Info("connection manager closed", "url", c.url)
	return nil
}
