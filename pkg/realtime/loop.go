package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/transport"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// handler adapts transport callbacks to inbox inputs.
type handler struct {
	c *Client
}

func (h handler) OnOpen(hd transport.Handle) {
	h.c.inbox.push(protocol.SocketOpened{Handle: hd})
}

func (h handler) OnClose(hd transport.Handle, reason string) {
	h.c.inbox.push(protocol.SocketClosed{Handle: hd, Reason: reason})
}

func (h handler) OnError(hd transport.Handle, err error) {
	h.c.metrics.TransportErrors.Inc()
	h.c.logger.Warn("connection error", "handle", hd, "error", err)
}

func (h handler) OnMessage(hd transport.Handle, raw []byte) {
	h.c.inbox.push(inbound{handle: hd, raw: raw})
}

func (c *Client) loop() {
	defer c.wg.Done()
	select {
	case <-c.connSet:
	case <-c.ctx.Done():
		return
	}
	c.logger.Debug("event loop started")
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("event loop stopped")
			return
		case <-c.inbox.signal:
			for _, in := range c.inbox.drain() {
				if c.ctx.Err() != nil {
					return
				}
				c.handle(in)
			}
		}
	}
}

func (c *Client) handle(in any) {
	switch v := in.(type) {
	case protocol.Event:
		c.step(v)
	case inbound:
		if v.handle != c.machine.State().Handle {
			c.logger.Debug("dropping message from previous connection", "handle", v.handle)
			return
		}
		res := c.router.Route(v.raw)
		c.metrics.MessagesRouted.WithLabelValues(res.MessageType, string(res.Outcome)).Inc()
		for _, ev := range res.Events {
			c.step(ev)
		}
	case outbound:
		v.reply <- c.sendAdHoc(v.cmd)
	case authUnavailable:
		c.notify(protocol.Notify{
			Title:       "Authentication failed",
			Description: "Live updates are paused until you sign in again: " + v.err.Error(),
			Severity:    protocol.SeverityError,
		})
	default:
		c.logger.Error("unknown loop input", "type", fmt.Sprintf("%T", in))
	}
}

// step applies one event and runs its effects.
func (c *Client) step(ev protocol.Event) {
	before := c.machine.Phase()
	effects := c.machine.Step(ev)
	after := c.machine.Phase()

	c.metrics.Events.WithLabelValues(protocol.EventName(ev)).Inc()
	switch ev.(type) {
	case protocol.SocketOpened:
		c.metrics.Connected.Set(1)
		c.metrics.ConnectionsTotal.Inc()
	case protocol.SocketClosed:
		if c.machine.State().Handle == 0 {
			c.metrics.Connected.Set(0)
		}
	}
	if before != after {
		c.metrics.PhaseTransitions.WithLabelValues(after.String()).Inc()
		c.logger.Info("phase changed", "from", before.String(), "to", after.String(), "event", protocol.EventName(ev))
	}
	for _, fx := range effects {
		c.execute(fx)
	}
	c.publish()
}

func (c *Client) execute(fx protocol.Effect) {
	switch e := fx.(type) {
	case protocol.SendCommand:
		if err := c.send(e.Command); err != nil {
			level := c.logger.Warn
			if errors.Is(err, transport.ErrStaleHandle) || errors.Is(err, transport.ErrNotConnected) {
				level = c.logger.Debug
			}
			level("command not sent", "message_type", e.Command.Type, "error", err)
		}
	case protocol.Notify:
		c.notify(e)
	case protocol.RefreshToken:
		c.refreshToken()
	case protocol.ScheduleTimeout:
		c.schedule(e)
	}
}

func (c *Client) send(cmd wire.Command) error {
	env, err := cmd.Build(c.config.tabID)
	if err != nil {
		c.metrics.CommandsFailed.WithLabelValues(cmd.Type).Inc()
		return err
	}
	if err := c.conn.Send(c.machine.State().Handle, env); err != nil {
		c.metrics.CommandsFailed.WithLabelValues(cmd.Type).Inc()
		return err
	}
	c.metrics.CommandsSent.WithLabelValues(cmd.Type).Inc()
	c.logger.Debug("command sent", "message_type", cmd.Type, "request_id", env.RequestID)
	return nil
}

func (c *Client) sendAdHoc(cmd wire.Command) error {
	st := c.machine.State()
	if st.Handle == 0 {
		return transport.ErrNotConnected
	}
	if st.Auth != protocol.Authenticated {
		return ErrNotReady
	}
	return c.send(cmd)
}

func (c *Client) notify(n protocol.Notify) {
	c.metrics.Notifications.WithLabelValues(string(n.Severity)).Inc()
	c.logger.Info("notify", "title", n.Title, "severity", string(n.Severity))
	c.notifier.Notify(n.Title, n.Description, n.Severity)
}

// refreshToken fetches a new token off the loop and feeds it back as an event.
func (c *Client) refreshToken() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		tok, err := c.tokens.Refresh(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("token refresh failed", "error", err)
			c.inbox.push(authUnavailable{err: err})
			return
		}
		c.inbox.push(protocol.TokenRefreshed{Token: tok})
	}()
}

func (c *Client) schedule(e protocol.ScheduleTimeout) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if c.timers == nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(e.After, func() {
		c.timersMu.Lock()
		delete(c.timers, t)
		c.timersMu.Unlock()
		c.inbox.push(protocol.SubscribeTimeout{Target: e.Target, Attempt: e.Attempt})
	})
	c.timers[t] = struct{}{}
}

func (c *Client) publish() {
	snap := c.machine.Snapshot()
	c.snapshot.Store(&snap)
}

