package notebooksync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-notebooksync/pkg/model"
	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/testutil"
	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

func TestTrackKeepsExistingEntries(t *testing.T) {
	s := NewStores(nil)
	defer s.Close()

	s.Notebooks.Set(7, model.Notebook{ID: 7, Title: "kept"})
	s.Track(topic.Notebook(7, 9), topic.BatchTable(4), topic.File(2))

	nb, ok := s.Notebooks.Get(7)
	require.True(t, ok)
	assert.Equal(t, "kept", nb.Title)
	conv, ok := s.Conversations.Get(9)
	require.True(t, ok)
	assert.Equal(t, int64(7), conv.ProjectID)
	_, ok = s.BatchTables.Get(4)
	assert.True(t, ok)
}

func TestConnect(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	stores := NewStores(nil)
	defer stores.Close()

	c, err := Connect(context.Background(), ms.WsURL, nil, stores, nil, []Target{topic.Notebook(7, 0)})
	require.NoError(t, err)
	defer c.Close()

	ms.Expect(wire.TypeSubscribeProject, 3*time.Second)
	require.NoError(t, testutil.WaitFor(t, "subscribed", 3*time.Second, func() bool {
		return c.State().Phase == protocol.SubscribedNotebook
	}))

	require.NoError(t, ms.Push(wire.TypePatchProjectResponse, map[string]any{"project_id": 7, "title": "live"}))
	require.NoError(t, testutil.WaitFor(t, "patched", 3*time.Second, func() bool {
		nb, _ := stores.Notebooks.Get(7)
		return nb.Title == "live"
	}))
}

func TestConnectFailure(t *testing.T) {
	stores := NewStores(nil)
	defer stores.Close()
	_, err := Connect(context.Background(), "ws://127.0.0.1:1/ws", nil, stores, nil, nil)
	assert.Error(t, err)
}
