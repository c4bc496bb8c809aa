// Package surface tracks the SQL edit surfaces currently mounted in the UI.
// Autocomplete answers are routed back to the surface that asked; answers
// for a surface that has since been unmounted are dropped.
package surface

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// ErrNotMounted is returned when a request names an unknown surface.
var ErrNotMounted = errors.New("surface: not mounted")

// Sink receives completions for one surface.
type Sink func(suggestions []wire.Suggestion)

// Surface is one mounted editor.
type Surface struct {
	ID        string
	ProjectID int64
	sink      Sink
}

// Registry holds mounted surfaces. It is safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	surfaces map[string]Surface
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, surfaces: make(map[string]Surface)}
}

// Mount registers a surface editing SQL in projectID. An empty id gets a
// generated one. The returned func unmounts it.
func (r *Registry) Mount(id string, projectID int64, sink Sink) (Surface, func()) {
	if id == "" {
		id = wire.GenerateID()
	}
	s := Surface{ID: id, ProjectID: projectID, sink: sink}
	r.mu.Lock()
	r.surfaces[id] = s
	r.mu.Unlock()
	r.logger.Debug("surface mounted", "surface_id", id, "project_id", projectID)
	return s, func() { r.Unmount(id) }
}

// Unmount removes a surface. Unknown ids are ignored.
func (r *Registry) Unmount(id string) {
	r.mu.Lock()
	_, ok := r.surfaces[id]
	delete(r.surfaces, id)
	r.mu.Unlock()
	if ok {
		r.logger.Debug("surface unmounted", "surface_id", id)
	}
}

// Lookup returns the mounted surface with id.
func (r *Registry) Lookup(id string) (Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	return s, ok
}

// Deliver hands suggestions to the surface. It reports false when the
// surface is not mounted.
func (r *Registry) Deliver(id string, suggestions []wire.Suggestion) bool {
	s, ok := r.Lookup(id)
	if !ok || s.sink == nil {
		return false
	}
	s.sink(suggestions)
	return true
}

// Request builds the autocomplete payload for a mounted surface.
func (r *Registry) Request(id, sql string, cursor int) (wire.SQLAutocompletePayload, error) {
	s, ok := r.Lookup(id)
	if !ok {
		return wire.SQLAutocompletePayload{}, ErrNotMounted
	}
	return wire.SQLAutocompletePayload{
		SurfaceID:      s.ID,
		ProjectID:      s.ProjectID,
		Query:          sql,
		CursorPosition: cursor,
	}, nil
}
