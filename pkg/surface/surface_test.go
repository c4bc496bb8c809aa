package surface_test

import (
	"testing"

	"github.com/lightforgemedia/go-notebooksync/pkg/surface"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountDeliverUnmount(t *testing.T) {
	r := surface.NewRegistry(nil)

	var got []wire.Suggestion
	s, unmount := r.Mount("editor-1", 7, func(sg []wire.Suggestion) { got = sg })
	assert.Equal(t, "editor-1", s.ID)

	ok := r.Deliver("editor-1", []wire.Suggestion{{Label: "SELECT", InsertText: "SELECT "}})
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "SELECT", got[0].Label)

	unmount()
	got = nil
	assert.False(t, r.Deliver("editor-1", []wire.Suggestion{{Label: "FROM"}}))
	assert.Nil(t, got)
}

func TestMountGeneratesID(t *testing.T) {
	r := surface.NewRegistry(nil)
	a, _ := r.Mount("", 1, nil)
	b, _ := r.Mount("", 1, nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestRequest(t *testing.T) {
	r := surface.NewRegistry(nil)
	r.Mount("editor-1", 7, nil)

	p, err := r.Request("editor-1", "SEL", 3)
	require.NoError(t, err)
	assert.Equal(t, wire.SQLAutocompletePayload{SurfaceID: "editor-1", ProjectID: 7, Query: "SEL", CursorPosition: 3}, p)

	_, err = r.Request("missing", "SEL", 3)
	assert.ErrorIs(t, err, surface.ErrNotMounted)
}
