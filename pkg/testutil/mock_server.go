// Package testutil provides a scripted push server for exercising the
// synchronization client end to end.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// Responder answers one inbound envelope with zero or more envelopes.
type Responder func(env *wire.Envelope) []*wire.Envelope

// MockServer is a push server backed by httptest. It records every envelope
// it receives and answers through its Responder.
type MockServer struct {
	T     *testing.T
	Srv   *httptest.Server
	WsURL string

	mu          sync.Mutex
	conn        *websocket.Conn
	cancel      context.CancelFunc
	responder   Responder
	connections int

	received chan *wire.Envelope
}

// NewMockServer starts a server answering with responder. A nil responder
// uses Script{Authenticated: true}.
func NewMockServer(t *testing.T, responder Responder) *MockServer {
	t.Helper()
	if responder == nil {
		responder = Script{Authenticated: true}.Responder()
	}
	ms := &MockServer{T: t, responder: responder, received: make(chan *wire.Envelope, 256)}
	ms.Srv = httptest.NewServer(http.HandlerFunc(ms.serve))
	ms.WsURL = "ws" + strings.TrimPrefix(ms.Srv.URL, "http")
	t.Cleanup(ms.Close)
	return ms
}

func (ms *MockServer) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		ms.T.Logf("MockServer: accept error: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ms.mu.Lock()
	ms.conn = ws
	ms.cancel = cancel
	ms.connections++
	ms.mu.Unlock()

	defer func() {
		cancel()
		ws.Close(websocket.StatusNormalClosure, "mock server handler finished")
		ms.mu.Lock()
		if ms.conn == ws {
			ms.conn = nil
		}
		ms.mu.Unlock()
	}()

	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return
		}
		select {
		case ms.received <- &env:
		default:
			ms.T.Logf("MockServer: receive buffer full, dropping %s", env.MessageType)
		}
		ms.mu.Lock()
		responder := ms.responder
		ms.mu.Unlock()
		for _, out := range responder(&env) {
			if err := wsjson.Write(ctx, ws, out); err != nil {
				return
			}
		}
	}
}

// SetResponder replaces the responder for subsequent messages.
func (ms *MockServer) SetResponder(r Responder) {
	ms.mu.Lock()
	ms.responder = r
	ms.mu.Unlock()
}

// Connections returns how many sockets have been accepted.
func (ms *MockServer) Connections() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.connections
}

// Push sends a server-initiated message to the current connection.
func (ms *MockServer) Push(messageType string, payload any) error {
	env, err := Respond(messageType, payload)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	ws := ms.conn
	ms.mu.Unlock()
	if ws == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return wsjson.Write(ctx, ws, env)
}

// PushRaw sends raw bytes as a text frame.
func (ms *MockServer) PushRaw(raw []byte) error {
	ms.mu.Lock()
	ws := ms.conn
	ms.mu.Unlock()
	if ws == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, raw)
}

// Expect returns the next received envelope of messageType, skipping others.
func (ms *MockServer) Expect(messageType string, timeout time.Duration) *wire.Envelope {
	ms.T.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case env := <-ms.received:
			if env.MessageType == messageType {
				return env
			}
		case <-deadline:
			ms.T.Fatalf("MockServer: no %s within %v", messageType, timeout)
			return nil
		}
	}
}

// Received drains and returns every envelope received so far.
func (ms *MockServer) Received() []*wire.Envelope {
	var out []*wire.Envelope
	for {
		select {
		case env := <-ms.received:
			out = append(out, env)
		default:
			return out
		}
	}
}

// CloseCurrentConnection drops the current socket.
func (ms *MockServer) CloseCurrentConnection() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.conn != nil {
		ms.conn.Close(websocket.StatusGoingAway, "test closing connection")
		ms.conn = nil
	}
	if ms.cancel != nil {
		ms.cancel()
		ms.cancel = nil
	}
}

// Close shuts the server down.
func (ms *MockServer) Close() {
	ms.CloseCurrentConnection()
	ms.Srv.Close()
}

// Respond builds a server envelope.
func Respond(messageType string, payload any) (*wire.Envelope, error) {
	return wire.NewEnvelope(messageType, payload, "server")
}

// Script is a declarative responder: it answers check-auth, auth and every
// subscribe/unsubscribe command.
type Script struct {
	// Authenticated is the check-auth answer.
	Authenticated bool
	// ValidToken is the token auth accepts. Empty accepts any token.
	ValidToken string
	// Fail lists topics whose subscribe is refused, with the reason.
	Fail map[wire.Topic]string
	// Silent lists topics whose subscribe is never answered.
	Silent map[wire.Topic]bool
}

// Responder returns the script as a Responder.
func (s Script) Responder() Responder {
	return func(env *wire.Envelope) []*wire.Envelope {
		var out *wire.Envelope
		var err error
		switch {
		case env.MessageType == wire.TypeCheckAuth:
			out, err = Respond(wire.TypeCheckAuthResponse, wire.CheckAuthResponse{
				Authenticated: s.Authenticated,
				Authorized:    s.Authenticated,
			})
		case env.MessageType == wire.TypeAuth:
			var p wire.AuthPayload
			_ = json.Unmarshal(env.MessagePayload, &p)
			resp := wire.StatusResponse{Status: wire.StatusSuccess}
			if s.ValidToken != "" && p.Token != s.ValidToken {
				resp = wire.StatusResponse{Status: wire.StatusError, Message: "invalid token"}
			}
			out, err = Respond(wire.TypeAuthResponse, resp)
		default:
			tp, subscribe, ok := requestTopic(env)
			if !ok {
				return nil
			}
			resp := map[string]any{
				"status":         wire.StatusSuccess,
				idField(tp.Kind): tp.ID,
			}
			if subscribe {
				if s.Silent[tp] {
					return nil
				}
				if reason, fail := s.Fail[tp]; fail {
					resp["status"] = wire.StatusError
					resp["message"] = reason
				}
			}
			out, err = Respond(env.MessageType+"-response", resp)
		}
		if err != nil {
			return nil
		}
		return []*wire.Envelope{out}
	}
}

func requestTopic(env *wire.Envelope) (wire.Topic, bool, bool) {
	subscribe := true
	rest, ok := strings.CutPrefix(env.MessageType, "subscribe-")
	if !ok {
		rest, ok = strings.CutPrefix(env.MessageType, "unsubscribe-")
		subscribe = false
	}
	if !ok {
		return wire.Topic{}, false, false
	}
	kind := wire.TopicKind(rest)
	var p wire.TopicPayload
	if err := json.Unmarshal(env.MessagePayload, &p); err != nil {
		return wire.Topic{}, false, false
	}
	var id int64
	switch kind {
	case wire.TopicProject:
		id = p.ProjectID
	case wire.TopicBotConversation:
		id = p.BotConversationID
	case wire.TopicBatchTable:
		id = p.BatchTableID
	case wire.TopicFile:
		id = p.FileID
	default:
		return wire.Topic{}, false, false
	}
	return wire.Topic{Kind: kind, ID: id}, subscribe, true
}

func idField(kind wire.TopicKind) string {
	return strings.ReplaceAll(string(kind), "-", "_") + "_id"
}
