package realtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-notebooksync/pkg/cache"
	"github.com/lightforgemedia/go-notebooksync/pkg/model"
	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/realtime"
	"github.com/lightforgemedia/go-notebooksync/pkg/surface"
	"github.com/lightforgemedia/go-notebooksync/pkg/testutil"
	"github.com/lightforgemedia/go-notebooksync/pkg/token"
	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/transport"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

const waitTimeout = 3 * time.Second

type notice struct {
	Title, Description string
	Severity           protocol.Severity
}

type notices struct {
	mu  sync.Mutex
	all []notice
}

func (n *notices) Notify(title, description string, severity protocol.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, notice{title, description, severity})
}

func (n *notices) list() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.all...)
}

type harness struct {
	server        *testutil.MockServer
	client        *realtime.Client
	notebooks     *cache.Store[model.Notebook]
	batchTables   *cache.Store[model.BatchTable]
	conversations *cache.Store[model.BotConversation]
	surfaces      *surface.Registry
	notices       *notices
	registry      *prometheus.Registry
}

func newHarness(t *testing.T, responder testutil.Responder, tokens token.Source, opts ...realtime.Option) *harness {
	t.Helper()
	h := &harness{
		server:        testutil.NewMockServer(t, responder),
		notebooks:     cache.New[model.Notebook]("notebooks", cache.WithLogger(testLogger)),
		batchTables:   cache.New[model.BatchTable]("batch-tables", cache.WithLogger(testLogger)),
		conversations: cache.New[model.BotConversation]("conversations", cache.WithLogger(testLogger)),
		surfaces:      surface.NewRegistry(testLogger),
		notices:       &notices{},
		registry:      prometheus.NewRegistry(),
	}
	base := []realtime.Option{
		realtime.WithLogger(testLogger),
		realtime.WithRegisterer(h.registry),
		realtime.WithTransportOptions(transport.WithAutoReconnect(0, 20*time.Millisecond, 100*time.Millisecond)),
	}
	h.client = realtime.New(h.server.WsURL, tokens, realtime.Collaborators{
		Notebooks:     h.notebooks,
		BatchTables:   h.batchTables,
		Conversations: h.conversations,
		Surfaces:      h.surfaces,
		Notifier:      h.notices,
	}, append(base, opts...)...)
	t.Cleanup(func() {
		h.client.Close()
		h.notebooks.Close()
		h.batchTables.Close()
		h.conversations.Close()
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.client.Start(context.Background()))
}

func (h *harness) waitPhase(t *testing.T, want protocol.Phase) {
	t.Helper()
	err := testutil.WaitFor(t, "phase "+want.String(), waitTimeout, func() bool {
		return h.client.State().Phase == want
	})
	require.NoError(t, err, "last phase %s", h.client.State().Phase)
}

func topicPayload(t *testing.T, env *wire.Envelope) wire.TopicPayload {
	t.Helper()
	var p wire.TopicPayload
	require.NoError(t, json.Unmarshal(env.MessagePayload, &p))
	return p
}

func TestDesireBeforeStartIsSentAfterAuth(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.client.SubscribeBatchTable(42)
	assert.Equal(t, protocol.Idle, h.client.State().Phase)

	h.start(t)
	h.server.Expect(wire.TypeCheckAuth, waitTimeout)
	env := h.server.Expect(wire.TypeSubscribeBatchTable, waitTimeout)
	assert.Equal(t, wire.TopicPayload{BatchTableID: 42}, topicPayload(t, env))
	assert.Equal(t, h.client.TabID(), env.TabID)
	assert.NotEmpty(t, env.RequestID)

	h.waitPhase(t, protocol.SubscribedBatchTable)
	assert.Empty(t, h.client.State().Pending)

	time.Sleep(50 * time.Millisecond)
	for _, e := range h.server.Received() {
		assert.NotEqual(t, wire.TypeSubscribeBatchTable, e.MessageType, "subscribe sent once")
	}
}

func TestNotebookPairAndPatches(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.notebooks.Set(7, model.Notebook{ID: 7, Title: "draft", Blocks: []model.Block{{ID: "a", Kind: "sql"}}})
	h.conversations.Set(9, model.BotConversation{ID: 9, ProjectID: 7})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := h.notebooks.Watch(ctx, 7)

	h.start(t)
	h.client.SubscribeNotebook(7, 9)
	h.server.Expect(wire.TypeSubscribeProject, waitTimeout)
	h.server.Expect(wire.TypeSubscribeBotConversation, waitTimeout)
	h.waitPhase(t, protocol.SubscribedNotebook)

	require.NoError(t, h.server.Push(wire.TypePatchProjectResponse, map[string]any{
		"project_id": 7, "version": 2, "title": "final",
	}))
	select {
	case c := <-changes:
		assert.Equal(t, "final", c.Value.Title)
	case <-time.After(waitTimeout):
		t.Fatal("notebook change not observed")
	}

	require.NoError(t, h.server.Push(wire.TypeRelevantQueries, map[string]any{
		"project_id": 7, "block_id": "a",
		"queries": []map[string]any{{"query_id": "q1", "title": "Revenue", "sql": "select 1"}},
	}))
	require.NoError(t, h.server.Push(wire.TypeStatusMessage, map[string]any{
		"project_id": 7, "bot_conversation_id": 9, "status": model.StatusStreaming,
	}))
	require.NoError(t, testutil.WaitFor(t, "conversation streaming", waitTimeout, func() bool {
		c, _ := h.conversations.Get(9)
		return c.Streaming()
	}))
	nb, _ := h.notebooks.Get(7)
	require.Len(t, nb.Blocks, 1)
	assert.Len(t, nb.Blocks[0].RelevantQueries, 1)
}

func TestSubscribeFailureNotifies(t *testing.T) {
	h := newHarness(t, testutil.Script{
		Authenticated: true,
		Fail:          map[wire.Topic]string{{Kind: wire.TopicBatchTable, ID: 42}: "forbidden"},
	}.Responder(), nil)
	h.start(t)
	h.client.SubscribeBatchTable(42)

	require.NoError(t, testutil.WaitFor(t, "notification", waitTimeout, func() bool {
		return len(h.notices.list()) == 1
	}))
	n := h.notices.list()[0]
	assert.Equal(t, protocol.SeverityError, n.Severity)
	assert.Contains(t, n.Description, "forbidden")

	h.waitPhase(t, protocol.IdleReady)
	snap := h.client.State()
	require.Len(t, snap.Targets, 1)
	assert.Equal(t, topic.Failed, snap.Targets[0].State)
}

func TestReconnectResubscribes(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start(t)
	h.client.SubscribeBatchTable(42)
	h.waitPhase(t, protocol.SubscribedBatchTable)
	h.server.Received()

	h.server.CloseCurrentConnection()
	require.NoError(t, testutil.WaitFor(t, "second connection", waitTimeout, func() bool {
		return h.server.Connections() == 2
	}))
	h.server.Expect(wire.TypeCheckAuth, waitTimeout)
	env := h.server.Expect(wire.TypeSubscribeBatchTable, waitTimeout)
	assert.Equal(t, wire.TopicPayload{BatchTableID: 42}, topicPayload(t, env))
	h.waitPhase(t, protocol.SubscribedBatchTable)
}

func TestAuthenticatesWithToken(t *testing.T) {
	h := newHarness(t, testutil.Script{ValidToken: "secret"}.Responder(), token.Static("secret"))
	h.client.SubscribeFile(3)
	h.start(t)

	env := h.server.Expect(wire.TypeAuth, waitTimeout)
	var p wire.AuthPayload
	require.NoError(t, json.Unmarshal(env.MessagePayload, &p))
	assert.Equal(t, "secret", p.Token)

	h.server.Expect(wire.TypeSubscribeFile, waitTimeout)
	h.waitPhase(t, protocol.SubscribedFile)
}

func TestRejectedTokenNotifies(t *testing.T) {
	h := newHarness(t, testutil.Script{ValidToken: "secret"}.Responder(), token.Static("wrong"))
	h.client.SubscribeFile(3)
	h.start(t)

	require.NoError(t, testutil.WaitFor(t, "auth notification", waitTimeout, func() bool {
		return len(h.notices.list()) == 1
	}))
	assert.Equal(t, "Authentication failed", h.notices.list()[0].Title)
	assert.Equal(t, protocol.Authenticating, h.client.State().Phase)
	assert.Len(t, h.client.State().Pending, 1, "desire stays queued")
}

func TestSubscribeTimeout(t *testing.T) {
	h := newHarness(t, testutil.Script{
		Authenticated: true,
		Silent:        map[wire.Topic]bool{{Kind: wire.TopicBatchTable, ID: 42}: true},
	}.Responder(), nil, realtime.WithSubscribeTimeout(100*time.Millisecond))
	h.start(t)
	h.client.SubscribeBatchTable(42)
	h.server.Expect(wire.TypeSubscribeBatchTable, waitTimeout)

	require.NoError(t, testutil.WaitFor(t, "timeout notification", waitTimeout, func() bool {
		return len(h.notices.list()) == 1
	}))
	assert.Equal(t, "Subscription timed out", h.notices.list()[0].Title)
	h.waitPhase(t, protocol.IdleReady)
}

func TestSetContextAndUnsubscribe(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start(t)
	h.client.SetContext(topic.BatchTable(42), topic.Notebook(7, 0))
	h.waitPhase(t, protocol.SubscribedBatchTable)

	h.client.Unsubscribe(topic.KindBatchTable)
	env := h.server.Expect(wire.TypeUnsubscribeBatchTable, waitTimeout)
	assert.Equal(t, wire.TopicPayload{BatchTableID: 42}, topicPayload(t, env))
	h.waitPhase(t, protocol.SubscribedNotebook)
}

func TestSQLAutocomplete(t *testing.T) {
	base := testutil.Script{Authenticated: true}.Responder()
	h := newHarness(t, func(env *wire.Envelope) []*wire.Envelope {
		if env.MessageType != wire.TypeSQLAutocomplete {
			return base(env)
		}
		var p wire.SQLAutocompletePayload
		_ = json.Unmarshal(env.MessagePayload, &p)
		out, _ := testutil.Respond(wire.TypeSQLAutocompleteResponse, wire.SQLAutocompleteResponse{
			SurfaceID:   p.SurfaceID,
			Suggestions: []wire.Suggestion{{Label: "SELECT", InsertText: "SELECT "}},
		})
		return []*wire.Envelope{out}
	}, nil)

	got := make(chan []wire.Suggestion, 1)
	_, unmount := h.surfaces.Mount("editor-1", 7, func(s []wire.Suggestion) { got <- s })
	defer unmount()

	ctx := context.Background()
	assert.ErrorIs(t, h.client.RequestSQLAutocomplete(ctx, "editor-1", "SEL", 3), realtime.ErrNotStarted)

	h.start(t)
	h.waitPhase(t, protocol.IdleReady)
	assert.ErrorIs(t, h.client.RequestSQLAutocomplete(ctx, "nope", "SEL", 3), surface.ErrNotMounted)
	require.NoError(t, h.client.RequestSQLAutocomplete(ctx, "editor-1", "SEL", 3))

	select {
	case s := <-got:
		require.Len(t, s, 1)
		assert.Equal(t, "SELECT", s[0].Label)
	case <-time.After(waitTimeout):
		t.Fatal("suggestions not delivered")
	}
}

func TestStopStreamingGeneration(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start(t)
	h.waitPhase(t, protocol.IdleReady)

	require.NoError(t, h.client.StopStreamingGeneration(context.Background(), 7, 9))
	env := h.server.Expect(wire.TypeStopStreamingGeneration, waitTimeout)
	var p wire.StopStreamingPayload
	require.NoError(t, json.Unmarshal(env.MessagePayload, &p))
	assert.Equal(t, wire.StopStreamingPayload{ProjectID: 7, BotConversationID: 9}, p)
}

func TestMalformedPushDoesNotBreakLoop(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.notebooks.Set(7, model.Notebook{ID: 7})
	h.start(t)
	h.client.SubscribeBatchTable(42)
	h.waitPhase(t, protocol.SubscribedBatchTable)
	before := h.client.State()

	require.NoError(t, h.server.PushRaw([]byte(`{{{`)))
	require.NoError(t, h.server.Push("server-hello", nil))
	require.NoError(t, h.server.Push(wire.TypePatchProjectResponse, map[string]any{"title": "no id"}))
	require.NoError(t, h.server.Push(wire.TypePatchProjectResponse, map[string]any{"project_id": 7, "title": "ok"}))

	require.NoError(t, testutil.WaitFor(t, "patch applied", waitTimeout, func() bool {
		nb, _ := h.notebooks.Get(7)
		return nb.Title == "ok"
	}))
	assert.Equal(t, before, h.client.State(), "bad frames leave the protocol state alone")
	assert.Equal(t, 1, h.server.Connections(), "bad frames do not drop the connection")
	assert.Empty(t, h.notices.list())
}

func TestStalledWatcherDoesNotFreezeClient(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.notebooks.Set(7, model.Notebook{ID: 7})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = h.notebooks.WatchAll(ctx) // never read

	h.start(t)
	h.waitPhase(t, protocol.IdleReady)
	for i := 0; i < 40; i++ {
		require.NoError(t, h.server.Push(wire.TypePatchProjectResponse, map[string]any{"project_id": 7, "title": fmt.Sprint("t", i)}))
	}
	h.client.SubscribeBatchTable(42)
	h.waitPhase(t, protocol.SubscribedBatchTable)
	nb, _ := h.notebooks.Get(7)
	assert.Equal(t, "t39", nb.Title)

	closed := make(chan error, 1)
	go func() { closed <- h.client.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked")
	}
}

func TestMetricsRegistered(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start(t)
	h.client.SubscribeBatchTable(42)
	h.waitPhase(t, protocol.SubscribedBatchTable)

	families, err := h.registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["notebooksync_client_commands_sent_total"])
	assert.True(t, names["notebooksync_client_messages_routed_total"])
	assert.True(t, names["notebooksync_client_connected"])
}

func TestCloseIsFinal(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start(t)
	require.NoError(t, h.client.Close())
	assert.ErrorIs(t, h.client.Close(), realtime.ErrClosed)
	assert.ErrorIs(t, h.client.Start(context.Background()), realtime.ErrClosed)
	assert.ErrorIs(t, h.client.StopStreamingGeneration(context.Background(), 1, 2), realtime.ErrClosed)
}
