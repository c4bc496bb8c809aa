package router

import (
	"strings"

	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

func (r *Router) handleCheckAuth(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	var p wire.CheckAuthResponse
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	return event(protocol.CheckAuthResult{Authenticated: p.Authenticated && p.Authorized})
}

func (r *Router) handleAuth(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	var p wire.StatusResponse
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	if !p.OK() {
		r.logger.Warn("authentication rejected", "status", p.Status, "message", p.Message)
	}
	return event(protocol.AuthResult{OK: p.OK(), Reason: p.Message})
}

func (r *Router) handleSubscription(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	kind, subscribe, _ := wire.SubscriptionResponseTopic(env.MessageType)
	var p wire.SubscriptionResponse
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	id, ok := p.TopicID(kind)
	if !ok {
		return nil, OutcomeDropped, missing(strings.ReplaceAll(string(kind), "-", "_") + "_id")
	}
	tp := wire.Topic{Kind: kind, ID: id}
	if subscribe {
		return event(protocol.SubscribeResult{Topic: tp, OK: p.OK(), Reason: p.Message})
	}
	return event(protocol.UnsubscribeResult{Topic: tp, OK: p.OK(), Reason: p.Message})
}
