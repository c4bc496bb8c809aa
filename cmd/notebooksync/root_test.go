package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-notebooksync/internal/config"
	"github.com/lightforgemedia/go-notebooksync/pkg/testutil"
	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

func TestRegisterCoalesced(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := uint64(3)
	registerCoalesced(reg, "notebooks", func() uint64 { return n })

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "notebooksync_cache_coalesced_changes_total", families[0].GetName())
	m := families[0].GetMetric()[0]
	assert.Equal(t, 3.0, m.GetCounter().GetValue())
	assert.Equal(t, "store", m.GetLabel()[0].GetName())
	assert.Equal(t, "notebooks", m.GetLabel()[0].GetValue())
}

func TestTargetsFromFlags(t *testing.T) {
	got, err := targetFlags{batchTable: 4, notebook: 7, conversation: 9, file: 2}.targets()
	require.NoError(t, err)
	assert.Equal(t, []topic.Target{topic.BatchTable(4), topic.Notebook(7, 9), topic.File(2)}, got)

	got, err = targetFlags{}.targets()
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = targetFlags{conversation: 9}.targets()
	assert.Error(t, err)
}

func TestPriority(t *testing.T) {
	assert.Equal(t, []topic.Kind{topic.KindFile, topic.KindNotebook},
		priority([]string{"file", " notebook"}))
	assert.Empty(t, priority(nil))
}

func TestRunSubscribesAndStops(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	cfg := &config.Config{
		WSURL:             ms.WsURL,
		ReconnectDelayMin: 10 * time.Millisecond,
		ReconnectDelayMax: 50 * time.Millisecond,
		LogLevel:          "debug",
		LogFormat:         "text",
		Priority:          []string{"batch-table"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var logs bytes.Buffer
	go func() {
		done <- run(ctx, cfg, []topic.Target{topic.BatchTable(42)}, &logs)
	}()

	env := ms.Expect(wire.TypeSubscribeBatchTable, 3*time.Second)
	assert.Contains(t, string(env.MessagePayload), `"batch_table_id":42`)
	require.NoError(t, ms.Push(wire.TypePatchBatchTableResponse, map[string]any{
		"batch_table_id": 42, "version": 1,
		"columns": []map[string]any{{"name": "id", "type": "int"}},
	}))
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
