// Package model holds the cached entities the push server patches: notebooks
// and their blocks, batch tables, and assistant conversations. Apply
// functions return updated copies and never mutate their input.
package model

import (
	"errors"
	"fmt"
)

// ErrStalePatch is returned when a patch is not newer than the entity.
var ErrStalePatch = errors.New("model: stale patch")

// checkVersion accepts unversioned patches and patches newer than current.
func checkVersion(current, incoming int64) error {
	if incoming == 0 || incoming > current {
		return nil
	}
	return fmt.Errorf("%w: version %d, have %d", ErrStalePatch, incoming, current)
}

func nextVersion(current, incoming int64) int64 {
	if incoming == 0 {
		return current
	}
	return incoming
}
