package protocol

import (
	"fmt"
	"time"

	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/transport"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// State is the complete machine state. Transition never mutates its input.
type State struct {
	Phase  Phase
	Auth   AuthStatus
	Handle transport.Handle
	Token  string
	Subs   *topic.Registry

	// Priority orders kinds when several targets become requestable at once.
	Priority []topic.Kind
	// SubscribeTimeout bounds the wait for a subscribe confirmation; zero
	// waits forever.
	SubscribeTimeout time.Duration
}

// NewState returns the initial Idle state.
func NewState(token string, priority []topic.Kind, subscribeTimeout time.Duration) State {
	return State{
		Phase:            Idle,
		Token:            token,
		Subs:             topic.NewRegistry(),
		Priority:         topic.Ordered(priority),
		SubscribeTimeout: subscribeTimeout,
	}
}

func (s State) connected() bool {
	return s.Handle != 0
}

func (s State) authenticated() bool {
	return s.connected() && s.Auth == Authenticated
}

// Transition computes the next state and the effects to run for one event.
func Transition(s State, ev Event) (State, []Effect) {
	next := s
	if s.Subs == nil {
		next.Subs = topic.NewRegistry()
	} else {
		next.Subs = s.Subs.Clone()
	}
	var fx []Effect

	switch e := ev.(type) {
	case SocketOpened:
		next.Phase = Connecting
		next.Auth = Unauthenticated
		next.Handle = e.Handle
		next.Subs.Invalidate()
		fx = append(fx, SendCommand{Command: wire.CheckAuth()})

	case SocketClosed:
		if e.Handle != 0 && e.Handle != s.Handle {
			return s, nil
		}
		next.Phase = Closed
		next.Auth = Unauthenticated
		next.Handle = 0
		next.Subs.Invalidate()

	case CheckAuthResult:
		if !s.connected() {
			return s, nil
		}
		if e.Authenticated {
			fx = becomeReady(&next)
			break
		}
		next.Phase = Authenticating
		next.Auth = AuthInProgress
		fx = append(fx, authenticate(next))

	case AuthResult:
		if !s.connected() || s.Auth == Authenticated {
			return s, nil
		}
		if e.OK {
			fx = becomeReady(&next)
			break
		}
		next.Phase = Authenticating
		next.Auth = AuthInProgress
		fx = append(fx, RefreshToken{})

	case TokenRefreshed:
		next.Token = e.Token
		if s.connected() && s.Auth == AuthInProgress && e.Token != "" {
			fx = append(fx, SendCommand{Command: wire.Auth(e.Token)})
		}

	case Desire:
		var intents []topic.Intent
		if e.Target.IsZero() {
			intents = next.Subs.Clear(e.Kind)
		} else {
			intents = next.Subs.Desire(e.Target)
		}
		fx = route(&next, intents)

	case DesireContext:
		fx = route(&next, next.Subs.SetContext(e.Targets))

	case SubscribeResult:
		if !s.authenticated() {
			return s, nil
		}
		if e.OK {
			if _, res := next.Subs.Ack(e.Topic); res == topic.AckUnknown {
				// the server holds a topic nothing here wants
				fx = append(fx, SendCommand{Command: wire.Unsubscribe(e.Topic)})
			}
		} else if entry, failed := next.Subs.Fail(e.Topic); failed {
			fx = append(fx, Notify{
				Title:       "Subscription failed",
				Description: failureText(entry.Target, e.Reason),
				Severity:    SeverityError,
			})
		}
		next.Phase = derivePhase(next)

	case UnsubscribeResult:
		if !s.authenticated() {
			return s, nil
		}
		next.Subs.Unsubscribed(e.Topic)
		if !e.OK {
			fx = append(fx, Notify{
				Title:       "Unsubscribe failed",
				Description: fmt.Sprintf("Could not stop updates for %s: %s", e.Topic, reasonOr(e.Reason)),
				Severity:    SeverityWarning,
			})
		}

	case SubscribeTimeout:
		if !s.authenticated() {
			return s, nil
		}
		if entry, expired := next.Subs.Expire(e.Target, e.Attempt); expired {
			fx = append(fx, Notify{
				Title:       "Subscription timed out",
				Description: failureText(entry.Target, "no confirmation from server"),
				Severity:    SeverityError,
			})
		}
		next.Phase = derivePhase(next)

	default:
		return s, nil
	}
	return next, fx
}

func authenticate(s State) Effect {
	if s.Token == "" {
		return RefreshToken{}
	}
	return SendCommand{Command: wire.Auth(s.Token)}
}

// becomeReady marks the connection authenticated and flushes the registry.
func becomeReady(s *State) []Effect {
	s.Auth = Authenticated
	fx := send(s, s.Subs.Flush(s.Priority))
	s.Phase = derivePhase(*s)
	return fx
}

// route sends intents when authenticated and queues them otherwise.
func route(s *State, intents []topic.Intent) []Effect {
	if !s.authenticated() {
		s.Subs.Enqueue(intents...)
		return nil
	}
	var committed []topic.Intent
	for _, in := range intents {
		if s.Subs.Commit(in) {
			committed = append(committed, in)
		}
	}
	fx := send(s, committed)
	s.Phase = derivePhase(*s)
	return fx
}

func send(s *State, intents []topic.Intent) []Effect {
	var fx []Effect
	for _, in := range intents {
		for _, cmd := range in.Commands() {
			fx = append(fx, SendCommand{Command: cmd})
		}
		if in.Op != topic.OpSubscribe || s.SubscribeTimeout <= 0 {
			continue
		}
		if entry, ok := s.Subs.Lookup(in.Target); ok {
			fx = append(fx, ScheduleTimeout{Target: in.Target, Attempt: entry.Attempt, After: s.SubscribeTimeout})
		}
	}
	return fx
}

// derivePhase maps registry contents to a phase once authenticated.
func derivePhase(s State) Phase {
	if !s.authenticated() {
		return s.Phase
	}
	entries := s.Subs.Entries(s.Priority)
	for _, e := range entries {
		if e.State == topic.Requested {
			return subscribingPhase(e.Target.Kind)
		}
	}
	for _, e := range entries {
		if e.State == topic.Confirmed {
			return subscribedPhase(e.Target.Kind)
		}
	}
	return IdleReady
}

func failureText(t topic.Target, reason string) string {
	return fmt.Sprintf("Live updates for %s are unavailable: %s. Reopen it to try again.", t, reasonOr(reason))
}

func reasonOr(reason string) string {
	if reason == "" {
		return "unknown error"
	}
	return reason
}
