// Package topic tracks which server topics the client wants and which the
// server has confirmed, and computes the commands that converge the two.
package topic

import (
	"fmt"

	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// Kind discriminates the Target union.
type Kind string

const (
	KindNotebook   Kind = "notebook+conversation"
	KindBatchTable Kind = "batch-table"
	KindFile       Kind = "file"
)

// Target is something the UI context wants pushed to it. Only the fields of
// its Kind are meaningful; use the constructors.
type Target struct {
	Kind              Kind
	NotebookID        int64
	BotConversationID int64
	BatchTableID      int64
	FileID            int64
}

// Notebook targets a notebook and, when conversationID is non-zero, the bot
// conversation open next to it.
func Notebook(notebookID, conversationID int64) Target {
	return Target{Kind: KindNotebook, NotebookID: notebookID, BotConversationID: conversationID}
}

// BatchTable targets a batch table.
func BatchTable(id int64) Target {
	return Target{Kind: KindBatchTable, BatchTableID: id}
}

// File targets an uploaded file.
func File(id int64) Target {
	return Target{Kind: KindFile, FileID: id}
}

// IsZero reports whether t names nothing.
func (t Target) IsZero() bool {
	return t == Target{}
}

// Valid reports whether the ids required by the kind are set.
func (t Target) Valid() bool {
	switch t.Kind {
	case KindNotebook:
		return t.NotebookID > 0 && t.BotConversationID >= 0
	case KindBatchTable:
		return t.BatchTableID > 0
	case KindFile:
		return t.FileID > 0
	}
	return false
}

// Topics expands the target into the server streams it covers.
func (t Target) Topics() []wire.Topic {
	switch t.Kind {
	case KindNotebook:
		topics := []wire.Topic{{Kind: wire.TopicProject, ID: t.NotebookID}}
		if t.BotConversationID > 0 {
			topics = append(topics, wire.Topic{Kind: wire.TopicBotConversation, ID: t.BotConversationID})
		}
		return topics
	case KindBatchTable:
		return []wire.Topic{{Kind: wire.TopicBatchTable, ID: t.BatchTableID}}
	case KindFile:
		return []wire.Topic{{Kind: wire.TopicFile, ID: t.FileID}}
	}
	return nil
}

// Covers reports whether topic is one of t's streams.
func (t Target) Covers(topic wire.Topic) bool {
	for _, own := range t.Topics() {
		if own == topic {
			return true
		}
	}
	return false
}

func (t Target) String() string {
	switch t.Kind {
	case KindNotebook:
		return fmt.Sprintf("notebook(%d)+conversation(%d)", t.NotebookID, t.BotConversationID)
	case KindBatchTable:
		return fmt.Sprintf("batch-table(%d)", t.BatchTableID)
	case KindFile:
		return fmt.Sprintf("file(%d)", t.FileID)
	}
	return "none"
}

// State is the per-target subscription status.
type State int

const (
	NotRequested State = iota
	Requested
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case NotRequested:
		return "not-requested"
	case Requested:
		return "requested"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Op is the direction of an Intent.
type Op int

const (
	OpSubscribe Op = iota
	OpUnsubscribe
)

func (o Op) String() string {
	if o == OpUnsubscribe {
		return "unsubscribe"
	}
	return "subscribe"
}

// Intent is a subscribe or unsubscribe the client means to put on the wire.
type Intent struct {
	Op     Op
	Target Target
	// Topics narrows the intent to some of Target's topics. Nil means all.
	Topics []wire.Topic
}

// Commands renders the intent as one wire command per topic.
func (in Intent) Commands() []wire.Command {
	topics := in.Topics
	if len(topics) == 0 {
		topics = in.Target.Topics()
	}
	cmds := make([]wire.Command, 0, len(topics))
	for _, t := range topics {
		if in.Op == OpUnsubscribe {
			cmds = append(cmds, wire.Unsubscribe(t))
		} else {
			cmds = append(cmds, wire.Subscribe(t))
		}
	}
	return cmds
}

func (in Intent) String() string {
	return in.Op.String() + " " + in.Target.String()
}
