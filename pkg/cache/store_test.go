package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/lightforgemedia/go-notebooksync/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name string
	N    int
}

func recv[T any](t *testing.T, ch <-chan cache.Change[T]) cache.Change[T] {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return cache.Change[T]{}
}

func TestGetSetUpdateDelete(t *testing.T) {
	s := cache.New[item]("items")
	defer s.Close()

	_, ok := s.Get(1)
	assert.False(t, ok)
	assert.False(t, s.Update(1, func(i item) item { i.N++; return i }), "absent ids are not created")
	_, ok = s.Get(1)
	assert.False(t, ok)

	s.Set(1, item{Name: "a"})
	require.True(t, s.Update(1, func(i item) item { i.N++; return i }))
	v, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, item{Name: "a", N: 1}, v)

	s.Set(3, item{Name: "c"})
	assert.Equal(t, []int64{1, 3}, s.IDs())
	assert.Equal(t, 2, s.Len())

	s.Delete(1)
	_, ok = s.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestWatch(t *testing.T) {
	s := cache.New[item]("items")
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	one := s.Watch(ctx, 1)
	all := s.WatchAll(ctx)

	s.Set(2, item{Name: "b"})
	s.Set(1, item{Name: "a"})
	c := recv(t, one)
	assert.Equal(t, item{Name: "a"}, c.Value)

	s.Update(1, func(i item) item { i.N = 5; return i })
	c = recv(t, one)
	assert.Equal(t, 5, c.Value.N)

	s.Delete(1)
	c = recv(t, one)
	assert.True(t, c.Deleted)

	// all was not read meanwhile: one change per id, latest value, first-seen order
	first := recv(t, all)
	assert.Equal(t, int64(2), first.ID)
	second := recv(t, all)
	assert.Equal(t, int64(1), second.ID)
	assert.True(t, second.Deleted)
}

func TestIdleWatcherNeverBlocksWriters(t *testing.T) {
	s := cache.New[item]("items", cache.WithQueueLength(1))
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Set(1, item{Name: "a"})
	stalled := s.WatchAll(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := 1; n <= 100; n++ {
			s.Update(1, func(i item) item { i.N = n; return i })
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writes blocked on a watcher that is not reading")
	}

	require.Eventually(t, func() bool { return s.Coalesced() == 99 }, 2*time.Second, 10*time.Millisecond)
	c := recv(t, stalled)
	assert.Equal(t, 100, c.Value.N)

	select {
	case extra := <-stalled:
		t.Fatalf("unexpected change %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchEndsWithContext(t *testing.T) {
	s := cache.New[item]("items")
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())

	ch := s.Watch(ctx, 1)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// the store keeps working after a watcher leaves
	s.Set(1, item{Name: "a"})
	_, ok := s.Get(1)
	assert.True(t, ok)
}

func TestCloseEndsWatches(t *testing.T) {
	s := cache.New[item]("items")
	ch := s.WatchAll(context.Background())
	s.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch not closed")
	}

	s.Set(1, item{Name: "late"})
	_, ok := s.Get(1)
	assert.True(t, ok)

	_, ok = <-s.Watch(context.Background(), 1)
	assert.False(t, ok)
}
