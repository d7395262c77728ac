package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/kernel"
)

// Exists returns an exists hook named "has-<pred>".
func Exists(id, pred uint64) hooks.Hook {
	return hooks.Hook{ID: id, Name: fmt.Sprintf("has-%d", pred), Predicate: pred, Kind: kernel.KindExists}
}

// Compare returns a compare hook: O op threshold.
func Compare(id, pred uint64, op kernel.Op, threshold uint64) hooks.Hook {
	return hooks.Hook{
		ID:        id,
		Name:      fmt.Sprintf("cmp-%d", pred),
		Predicate: pred,
		Kind:      kernel.KindCompare,
		Params:    kernel.Params{Op: op, Threshold: threshold},
	}
}

// Snapshot builds a version-1 snapshot.
func Snapshot(t testing.TB, hs ...hooks.Hook) *hooks.Snapshot {
	t.Helper()
	snap, err := hooks.NewSnapshot(1, hs...)
	require.NoError(t, err)
	return snap
}

// Registry builds a registry holding a version-1 snapshot.
func Registry(t testing.TB, hs ...hooks.Hook) *hooks.Registry {
	t.Helper()
	return hooks.NewRegistry(Snapshot(t, hs...))
}
