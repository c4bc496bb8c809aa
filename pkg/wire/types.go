package wire

import (
	"encoding/json"
	"strconv"
)

// Outbound message types.
const (
	TypeCheckAuth                  = "check-auth"
	TypeAuth                       = "auth"
	TypeSubscribeProject           = "subscribe-project"
	TypeUnsubscribeProject         = "unsubscribe-project"
	TypeSubscribeBotConversation   = "subscribe-bot-conversation"
	TypeUnsubscribeBotConversation = "unsubscribe-bot-conversation"
	TypeSubscribeBatchTable        = "subscribe-batch-table"
	TypeUnsubscribeBatchTable      = "unsubscribe-batch-table"
	TypeSubscribeFile              = "subscribe-file"
	TypeUnsubscribeFile            = "unsubscribe-file"
	TypeSQLAutocomplete            = "sql-autocomplete"
	TypeStopStreamingGeneration    = "stop-streaming-generation"
)

// Inbound message types.
const (
	TypeCheckAuthResponse                  = "check-auth-response"
	TypeAuthResponse                       = "auth-response"
	TypeSubscribeProjectResponse           = "subscribe-project-response"
	TypeUnsubscribeProjectResponse         = "unsubscribe-project-response"
	TypeSubscribeBotConversationResponse   = "subscribe-bot-conversation-response"
	TypeUnsubscribeBotConversationResponse = "unsubscribe-bot-conversation-response"
	TypeSubscribeBatchTableResponse        = "subscribe-batch-table-response"
	TypeUnsubscribeBatchTableResponse      = "unsubscribe-batch-table-response"
	TypeSubscribeFileResponse              = "subscribe-file-response"
	TypeUnsubscribeFileResponse            = "unsubscribe-file-response"
	TypePatchProjectResponse               = "patch-project-response"
	TypePatchBatchTableResponse            = "patch-batch-table-response"
	TypePatchBotConversationResponse       = "patch-bot-conversation-response"
	TypeSQLAutocompleteResponse            = "sql-autocomplete-response"
	TypeRelevantQueries                    = "relevant-queries"
	TypeStatusMessage                      = "status-message"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// TopicKind names a server-side subscribable stream.
type TopicKind string

const (
	TopicProject         TopicKind = "project"
	TopicBotConversation TopicKind = "bot-conversation"
	TopicBatchTable      TopicKind = "batch-table"
	TopicFile            TopicKind = "file"
)

// Topic is one subscribable stream on the server.
type Topic struct {
	Kind TopicKind
	ID   int64
}

func (t Topic) String() string {
	return string(t.Kind) + ":" + strconv.FormatInt(t.ID, 10)
}

// --- Outbound payloads ---

// AuthPayload carries the bearer token for an auth command.
type AuthPayload struct {
	Token string `json:"token"`
}

// TopicPayload is the body of every subscribe/unsubscribe command. Exactly
// one field is set.
type TopicPayload struct {
	ProjectID         int64 `json:"project_id,omitempty"`
	BotConversationID int64 `json:"bot_conversation_id,omitempty"`
	BatchTableID      int64 `json:"batch_table_id,omitempty"`
	FileID            int64 `json:"file_id,omitempty"`
}

// SQLAutocompletePayload asks the server for completions at a cursor.
type SQLAutocompletePayload struct {
	SurfaceID      string `json:"surface_id"`
	ProjectID      int64  `json:"project_id,omitempty"`
	Query          string `json:"query"`
	CursorPosition int    `json:"cursor_position"`
}

// StopStreamingPayload stops an in-flight assistant generation.
type StopStreamingPayload struct {
	ProjectID         int64 `json:"project_id"`
	BotConversationID int64 `json:"bot_conversation_id"`
}

// --- Inbound payloads ---

// CheckAuthResponse answers check-auth.
type CheckAuthResponse struct {
	Authenticated bool `json:"authenticated"`
	Authorized    bool `json:"authorized"`
}

// StatusResponse is the common shape of auth and subscription responses.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the server accepted the command.
func (s StatusResponse) OK() bool {
	return s.Status == StatusSuccess
}

// SubscriptionResponse answers any subscribe-* or unsubscribe-* command.
type SubscriptionResponse struct {
	StatusResponse
	ProjectID         *int64 `json:"project_id,omitempty"`
	BotConversationID *int64 `json:"bot_conversation_id,omitempty"`
	BatchTableID      *int64 `json:"batch_table_id,omitempty"`
	FileID            *int64 `json:"file_id,omitempty"`
}

// TopicID returns the id field matching kind.
func (r SubscriptionResponse) TopicID(kind TopicKind) (int64, bool) {
	var p *int64
	switch kind {
	case TopicProject:
		p = r.ProjectID
	case TopicBotConversation:
		p = r.BotConversationID
	case TopicBatchTable:
		p = r.BatchTableID
	case TopicFile:
		p = r.FileID
	}
	return ID(p)
}

// BlockPayload is a notebook block as carried in project patches.
type BlockPayload struct {
	BlockID  string          `json:"block_id"`
	Kind     string          `json:"kind"`
	Position int             `json:"position"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// ProjectPatch updates a notebook.
type ProjectPatch struct {
	ProjectID       *int64         `json:"project_id"`
	Version         int64          `json:"version,omitempty"`
	Title           *string        `json:"title,omitempty"`
	Blocks          []BlockPayload `json:"blocks,omitempty"`
	DeletedBlockIDs []string       `json:"deleted_block_ids,omitempty"`
}

// ColumnPayload describes one batch-table column.
type ColumnPayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RowPayload is one batch-table row keyed by column name.
type RowPayload struct {
	RowID int64                      `json:"row_id"`
	Cells map[string]json.RawMessage `json:"cells"`
}

// BatchTablePatch updates a batch table.
type BatchTablePatch struct {
	BatchTableID  *int64          `json:"batch_table_id"`
	Version       int64           `json:"version,omitempty"`
	Columns       []ColumnPayload `json:"columns,omitempty"`
	Rows          []RowPayload    `json:"rows,omitempty"`
	DeletedRowIDs []int64         `json:"deleted_row_ids,omitempty"`
}

// ChatMessagePayload is one assistant or user message in a conversation.
type ChatMessagePayload struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Done      bool   `json:"done,omitempty"`
}

// ConversationPatch appends or replaces conversation messages.
type ConversationPatch struct {
	ProjectID         *int64               `json:"project_id"`
	BotConversationID *int64               `json:"bot_conversation_id"`
	Messages          []ChatMessagePayload `json:"messages"`
}

// StatusMessage reports generation progress for a conversation.
type StatusMessage struct {
	ProjectID         *int64 `json:"project_id"`
	BotConversationID *int64 `json:"bot_conversation_id"`
	Status            string `json:"status"`
	Text              string `json:"text,omitempty"`
}

// RelevantQuery is a saved query the server found relevant to a block.
type RelevantQuery struct {
	QueryID string  `json:"query_id"`
	Title   string  `json:"title"`
	SQL     string  `json:"sql"`
	Score   float64 `json:"score,omitempty"`
}

// RelevantQueries is pushed when the server finds queries for a block.
type RelevantQueries struct {
	ProjectID *int64          `json:"project_id"`
	BlockID   string          `json:"block_id"`
	Queries   []RelevantQuery `json:"queries"`
}

// Suggestion is one SQL completion item.
type Suggestion struct {
	Label      string `json:"label"`
	InsertText string `json:"insert_text"`
	Kind       string `json:"kind,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// SQLAutocompleteResponse carries completions for an edit surface.
type SQLAutocompleteResponse struct {
	SurfaceID   string       `json:"surface_id"`
	Suggestions []Suggestion `json:"suggestions"`
}

// ID dereferences an optional id; non-positive ids count as missing.
func ID(p *int64) (int64, bool) {
	if p == nil || *p <= 0 {
		return 0, false
	}
	return *p, true
}
