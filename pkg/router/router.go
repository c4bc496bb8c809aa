// Package router dispatches inbound envelopes. Lifecycle responses become
// protocol events; data and feature messages are applied to injected caches
// and edit surfaces. A bad message is dropped on its own and never affects
// the next one.
package router

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lightforgemedia/go-notebooksync/pkg/model"
	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// Cache is the write surface of one entity store.
type Cache[T any] interface {
	Get(id int64) (T, bool)
	Update(id int64, fn func(T) T) bool
}

// Surfaces receives autocomplete answers.
type Surfaces interface {
	Deliver(surfaceID string, suggestions []wire.Suggestion) bool
}

// Collaborators are the stores the router writes into. Nil members are
// treated as empty.
type Collaborators struct {
	Notebooks     Cache[model.Notebook]
	BatchTables   Cache[model.BatchTable]
	Conversations Cache[model.BotConversation]
	Surfaces      Surfaces
}

// Outcome classifies what happened to one inbound message.
type Outcome string

const (
	OutcomeEvent     Outcome = "event"
	OutcomeApplied   Outcome = "applied"
	OutcomeDropped   Outcome = "dropped"
	OutcomeMalformed Outcome = "malformed"
	OutcomeUnknown   Outcome = "unknown"
)

// Result is the routing result of one message.
type Result struct {
	MessageType string
	Outcome     Outcome
	Events      []protocol.Event
}

type handlerFunc func(env *wire.Envelope) ([]protocol.Event, Outcome, error)

// errDropped marks an expected drop: the referenced entity is gone.
var errDropped = errors.New("referent not cached")

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router maps message types to handlers.
type Router struct {
	c        Collaborators
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

// New returns a router writing into c.
func New(c Collaborators, opts ...Option) *Router {
	r := &Router{c: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers = map[string]handlerFunc{
		wire.TypeCheckAuthResponse:            r.handleCheckAuth,
		wire.TypeAuthResponse:                 r.handleAuth,
		wire.TypePatchProjectResponse:         r.handlePatchProject,
		wire.TypePatchBatchTableResponse:      r.handlePatchBatchTable,
		wire.TypePatchBotConversationResponse: r.handlePatchConversation,
		wire.TypeStatusMessage:                r.handleStatusMessage,
		wire.TypeRelevantQueries:              r.handleRelevantQueries,
		wire.TypeSQLAutocompleteResponse:      r.handleSQLAutocomplete,
	}
	for _, typ := range []string{
		wire.TypeSubscribeProjectResponse, wire.TypeUnsubscribeProjectResponse,
		wire.TypeSubscribeBotConversationResponse, wire.TypeUnsubscribeBotConversationResponse,
		wire.TypeSubscribeBatchTableResponse, wire.TypeUnsubscribeBatchTableResponse,
		wire.TypeSubscribeFileResponse, wire.TypeUnsubscribeFileResponse,
	} {
		r.handlers[typ] = r.handleSubscription
	}
	return r
}

// Handles reports whether messageType has a handler.
func (r *Router) Handles(messageType string) bool {
	_, ok := r.handlers[messageType]
	return ok
}

// Route parses and dispatches one raw frame.
func (r *Router) Route(raw []byte) Result {
	env, err := wire.Parse(raw)
	if err != nil {
		r.logger.Warn("dropping malformed message", "error", err, "payload", wire.Compact(raw))
		return Result{Outcome: OutcomeMalformed}
	}
	return r.Dispatch(env)
}

// Dispatch routes an already parsed envelope.
func (r *Router) Dispatch(env *wire.Envelope) Result {
	res := Result{MessageType: env.MessageType}
	h, ok := r.handlers[env.MessageType]
	if !ok {
		r.logger.Warn("ignoring unknown message type", "message_type", env.MessageType)
		res.Outcome = OutcomeUnknown
		return res
	}

	events, outcome, err := h(env)
	switch {
	case err == nil:
	case errors.Is(err, errDropped):
		r.logger.Debug("dropping message", "message_type", env.MessageType, "reason", err)
		outcome = OutcomeDropped
	case errors.Is(err, wire.ErrMissingCorrelationID):
		r.logger.Info("dropping message", "message_type", env.MessageType, "error", err,
			"payload", wire.Compact(env.MessagePayload))
		outcome = OutcomeDropped
	default:
		r.logger.Warn("dropping malformed message", "message_type", env.MessageType, "error", err,
			"payload", wire.Compact(env.MessagePayload))
		outcome = OutcomeMalformed
	}
	res.Events = events
	res.Outcome = outcome
	return res
}

func event(ev protocol.Event) ([]protocol.Event, Outcome, error) {
	return []protocol.Event{ev}, OutcomeEvent, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", wire.ErrMissingCorrelationID, field)
}

func dropped(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errDropped, fmt.Sprintf(format, args...))
}
