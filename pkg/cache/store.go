// Package cache provides the in-memory entity stores the router writes into.
// Every change is published on a cskr/pubsub bus so views can watch one
// entity or the whole store.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cskr/pubsub"
)

const (
	defaultQueueLength = 16
	allTopic           = "*"
)

// Change describes one write to a Store.
type Change[T any] struct {
	ID      int64
	Value   T
	Deleted bool
}

type storeConfig struct {
	logger      *slog.Logger
	queueLength int
}

// Option configures a Store.
type Option func(*storeConfig)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *storeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithQueueLength sets the per-watcher bus buffer.
func WithQueueLength(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.queueLength = n
		}
	}
}

// Store is a concurrency-safe map of entities keyed by id.
type Store[T any] struct {
	name   string
	logger *slog.Logger

	mu    sync.RWMutex
	items map[int64]T

	// busMu guards closed; publishers hold it shared so Close never races Pub.
	busMu  sync.RWMutex
	closed bool
	bus    *pubsub.PubSub

	coalesced atomic.Uint64
}

// New returns an empty store. name labels its log lines.
func New[T any](name string, opts ...Option) *Store[T] {
	cfg := storeConfig{logger: slog.Default(), queueLength: defaultQueueLength}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store[T]{
		name:   name,
		logger: cfg.logger.With("store", name),
		items:  make(map[int64]T),
		bus:    pubsub.New(cfg.queueLength),
	}
}

// Get returns the entity with id.
func (s *Store[T]) Get(id int64) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok
}

// Set stores v under id, replacing any previous value.
func (s *Store[T]) Set(id int64, v T) {
	s.mu.Lock()
	s.items[id] = v
	s.mu.Unlock()
	s.publish(Change[T]{ID: id, Value: v})
}

// Update replaces the entity with fn applied to it. It does nothing and
// returns false when id is not cached.
func (s *Store[T]) Update(id int64, fn func(T) T) bool {
	s.mu.Lock()
	cur, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	next := fn(cur)
	s.items[id] = next
	s.mu.Unlock()
	s.publish(Change[T]{ID: id, Value: next})
	return true
}

// Delete removes id.
func (s *Store[T]) Delete(id int64) {
	s.mu.Lock()
	_, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.items, id)
	s.mu.Unlock()
	s.publish(Change[T]{ID: id, Deleted: true})
}

// IDs returns the cached ids in ascending order.
func (s *Store[T]) IDs() []int64 {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of cached entities.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store[T]) publish(c Change[T]) {
	s.busMu.RLock()
	defer s.busMu.RUnlock()
	if s.closed {
		return
	}
	s.logger.Debug("cache changed", "id", c.ID, "deleted", c.Deleted)
	s.bus.Pub(c, topicFor(c.ID), allTopic)
}

// Watch streams changes to id until ctx is done.
func (s *Store[T]) Watch(ctx context.Context, id int64) <-chan Change[T] {
	return s.watch(ctx, topicFor(id))
}

// WatchAll streams every change until ctx is done.
func (s *Store[T]) WatchAll(ctx context.Context) <-chan Change[T] {
	return s.watch(ctx, allTopic)
}

// watch forwards bus messages to out. The forwarder always keeps reading the
// bus, so a watcher that stops reading never blocks publishers: while out is
// not being drained, pending changes are coalesced to the latest per id.
func (s *Store[T]) watch(ctx context.Context, topic string) <-chan Change[T] {
	out := make(chan Change[T])
	s.busMu.RLock()
	if s.closed {
		s.busMu.RUnlock()
		close(out)
		return out
	}
	ch := s.bus.Sub(topic)
	s.busMu.RUnlock()

	go func() {
		defer close(out)
		pending := make(map[int64]Change[T])
		var order []int64
		for {
			var (
				send chan<- Change[T]
				next Change[T]
			)
			if len(order) > 0 {
				send = out
				next = pending[order[0]]
			}
			select {
			case <-ctx.Done():
				// Unsub must run concurrently with draining ch.
				go s.unsub(ch, topic)
				for range ch {
				}
				s.logger.Debug("watch ended", "topic", topic)
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				c := raw.(Change[T])
				if _, queued := pending[c.ID]; queued {
					s.coalesced.Add(1)
				} else {
					order = append(order, c.ID)
				}
				pending[c.ID] = c
			case send <- next:
				delete(pending, order[0])
				order = order[1:]
			}
		}
	}()
	return out
}

// Coalesced returns how many changes were merged into a later change for
// the same id because a watcher was not reading.
func (s *Store[T]) Coalesced() uint64 {
	return s.coalesced.Load()
}

func (s *Store[T]) unsub(ch chan interface{}, topic string) {
	s.busMu.RLock()
	defer s.busMu.RUnlock()
	if !s.closed {
		s.bus.Unsub(ch, topic)
	}
}

// Close ends all watches. Later writes still update the store but are not
// published.
func (s *Store[T]) Close() {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.Shutdown()
}

func topicFor(id int64) string {
	return strconv.FormatInt(id, 10)
}
