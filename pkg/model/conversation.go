package model

import "github.com/lightforgemedia/go-notebooksync/pkg/wire"

// Generation statuses reported by status-message.
const (
	StatusIdle      = "idle"
	StatusStreaming = "streaming"
	StatusDone      = "done"
)

// ChatMessage is one message in an assistant conversation.
type ChatMessage struct {
	ID      string
	Role    string
	Content string
	Done    bool
}

// BotConversation is the assistant conversation attached to a notebook.
type BotConversation struct {
	ID         int64
	ProjectID  int64
	Messages   []ChatMessage
	Status     string
	StatusText string
}

// ApplyConversationPatch replaces messages with a known id in place and
// appends new ones in arrival order.
func ApplyConversationPatch(c BotConversation, p wire.ConversationPatch) BotConversation {
	out := c
	out.Messages = append([]ChatMessage(nil), c.Messages...)
	index := make(map[string]int, len(out.Messages))
	for i, m := range out.Messages {
		index[m.ID] = i
	}
	for _, mp := range p.Messages {
		m := ChatMessage{ID: mp.MessageID, Role: mp.Role, Content: mp.Content, Done: mp.Done}
		if i, ok := index[m.ID]; ok {
			out.Messages[i] = m
			continue
		}
		index[m.ID] = len(out.Messages)
		out.Messages = append(out.Messages, m)
	}
	return out
}

// WithStatus records the generation status.
func WithStatus(c BotConversation, status, text string) BotConversation {
	c.Status = status
	c.StatusText = text
	return c
}

// Streaming reports whether an answer is being generated.
func (c BotConversation) Streaming() bool {
	return c.Status == StatusStreaming
}
