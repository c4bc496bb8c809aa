package protocol

import (
	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/transport"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// Event is an input to Transition.
type Event interface {
	eventName() string
}

// SocketOpened is raised when the transport opens a connection (set=websocket).
type SocketOpened struct {
	Handle transport.Handle
}

// SocketClosed is raised when the connection closes or errors (go-to=closed).
type SocketClosed struct {
	Handle transport.Handle
	Reason string
}

// CheckAuthResult carries the answer to check-auth.
type CheckAuthResult struct {
	Authenticated bool
}

// AuthResult carries the answer to auth.
type AuthResult struct {
	OK     bool
	Reason string
}

// TokenRefreshed delivers a new bearer token.
type TokenRefreshed struct {
	Token string
}

// Desire sets the wanted target of one kind. A zero Target clears the kind.
type Desire struct {
	Kind   topic.Kind
	Target topic.Target
}

// DesireContext replaces the whole desired set.
type DesireContext struct {
	Targets []topic.Target
}

// SubscribeResult carries a subscribe-*-response for one topic.
type SubscribeResult struct {
	Topic  wire.Topic
	OK     bool
	Reason string
}

// UnsubscribeResult carries an unsubscribe-*-response for one topic.
type UnsubscribeResult struct {
	Topic  wire.Topic
	OK     bool
	Reason string
}

// SubscribeTimeout fires when a scheduled confirmation window elapses.
type SubscribeTimeout struct {
	Target  topic.Target
	Attempt int
}

func (SocketOpened) eventName() string      { return "set=websocket" }
func (SocketClosed) eventName() string      { return "go-to=closed" }
func (CheckAuthResult) eventName() string   { return "check-auth-result" }
func (AuthResult) eventName() string        { return "auth-result" }
func (TokenRefreshed) eventName() string    { return "token-refreshed" }
func (Desire) eventName() string            { return "desire" }
func (DesireContext) eventName() string     { return "desire-context" }
func (SubscribeResult) eventName() string   { return "subscribe-result" }
func (UnsubscribeResult) eventName() string { return "unsubscribe-result" }
func (SubscribeTimeout) eventName() string  { return "subscribe-timeout" }

// EventName returns a stable label for logs and metrics.
func EventName(ev Event) string {
	return ev.eventName()
}

// SubscribeToBatchTable is the per-kind desire for a batch table.
func SubscribeToBatchTable(id int64) Desire {
	return Desire{Kind: topic.KindBatchTable, Target: topic.BatchTable(id)}
}

// SubscribeToNotebookAndBotConversation is the per-kind desire for a notebook
// and its conversation.
func SubscribeToNotebookAndBotConversation(notebookID, conversationID int64) Desire {
	return Desire{Kind: topic.KindNotebook, Target: topic.Notebook(notebookID, conversationID)}
}

// SubscribeToFile is the per-kind desire for a file.
func SubscribeToFile(id int64) Desire {
	return Desire{Kind: topic.KindFile, Target: topic.File(id)}
}
