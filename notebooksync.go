// Package notebooksync keeps local copies of notebooks, batch tables and
// assistant conversations synchronized with the push server over one
// WebSocket connection.
package notebooksync

import (
	"context"
	"log/slog"

	"github.com/lightforgemedia/go-notebooksync/pkg/cache"
	"github.com/lightforgemedia/go-notebooksync/pkg/model"
	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/realtime"
	"github.com/lightforgemedia/go-notebooksync/pkg/token"
	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
)

// Re-export core types
type (
	Client          = realtime.Client
	Option          = realtime.Option
	Notifier        = realtime.Notifier
	NotifierFunc    = realtime.NotifierFunc
	Phase           = protocol.Phase
	Snapshot        = protocol.Snapshot
	Severity        = protocol.Severity
	Target          = topic.Target
	TokenSource     = token.Source
	Notebook        = model.Notebook
	BatchTable      = model.BatchTable
	BotConversation = model.BotConversation
)

// Re-export error types
var (
	ErrNotStarted = realtime.ErrNotStarted
	ErrNotReady   = realtime.ErrNotReady
	ErrClosed     = realtime.ErrClosed
)

// Stores are the in-memory caches the client writes patches into.
type Stores struct {
	Notebooks     *cache.Store[model.Notebook]
	BatchTables   *cache.Store[model.BatchTable]
	Conversations *cache.Store[model.BotConversation]
}

// NewStores creates empty stores.
func NewStores(logger *slog.Logger) *Stores {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stores{
		Notebooks:     cache.New[model.Notebook]("notebooks", cache.WithLogger(logger)),
		BatchTables:   cache.New[model.BatchTable]("batch-tables", cache.WithLogger(logger)),
		Conversations: cache.New[model.BotConversation]("conversations", cache.WithLogger(logger)),
	}
}

// Track creates an empty entry for each target so that incoming patches
// have something to apply to. Existing entries are kept.
func (s *Stores) Track(targets ...topic.Target) {
	for _, t := range targets {
		switch t.Kind {
		case topic.KindNotebook:
			if _, ok := s.Notebooks.Get(t.NotebookID); !ok {
				s.Notebooks.Set(t.NotebookID, model.Notebook{ID: t.NotebookID})
			}
			if t.BotConversationID <= 0 {
				continue
			}
			if _, ok := s.Conversations.Get(t.BotConversationID); !ok {
				s.Conversations.Set(t.BotConversationID, model.BotConversation{ID: t.BotConversationID, ProjectID: t.NotebookID})
			}
		case topic.KindBatchTable:
			if _, ok := s.BatchTables.Get(t.BatchTableID); !ok {
				s.BatchTables.Set(t.BatchTableID, model.BatchTable{ID: t.BatchTableID})
			}
		}
	}
}

// Collaborators wires the stores into a client.
func (s *Stores) Collaborators(n Notifier) realtime.Collaborators {
	return realtime.Collaborators{
		Notebooks:     s.Notebooks,
		BatchTables:   s.BatchTables,
		Conversations: s.Conversations,
		Notifier:      n,
	}
}

// Close ends every watch on the stores.
func (s *Stores) Close() {
	s.Notebooks.Close()
	s.BatchTables.Close()
	s.Conversations.Close()
}

// Connect creates a client over stores, subscribes to targets and starts it.
func Connect(ctx context.Context, url string, tokens TokenSource, stores *Stores, n Notifier, targets []Target, opts ...Option) (*Client, error) {
	stores.Track(targets...)
	c := realtime.New(url, tokens, stores.Collaborators(n), opts...)
	if len(targets) > 0 {
		c.SetContext(targets...)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
