package hooks

import (
	"sync/atomic"
)

// Registry publishes the current hook Snapshot.
//
// Thread-safety: all methods are safe for concurrent use. Load never blocks;
// a reconciliation that loaded a snapshot keeps it for the whole call.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry serving initial. A nil initial snapshot
// means an empty registry at version 0.
func NewRegistry(initial *Snapshot) *Registry {
	if initial == nil {
		initial = MustSnapshot(0)
	}
	r := &Registry{}
	r.current.Store(initial)
	return r
}

// Load returns the current snapshot.
func (r *Registry) Load() *Snapshot {
	return r.current.Load()
}

// Lookup resolves pred against the current snapshot.
func (r *Registry) Lookup(pred uint64) (*Hook, bool) {
	return r.Load().Lookup(pred)
}

// Swap publishes next and returns the previous snapshot.
func (r *Registry) Swap(next *Snapshot) *Snapshot {
	return r.current.Swap(next)
}

// CompareAndSwap publishes next only if old is still current.
func (r *Registry) CompareAndSwap(old, next *Snapshot) bool {
	return r.current.CompareAndSwap(old, next)
}

// Register adds h, publishing a new snapshot at version+1.
// Returns ErrDuplicatePredicate if the predicate already has a hook.
func (r *Registry) Register(h Hook) error {
	for {
		old := r.Load()
		next, err := old.With(h)
		if err != nil {
			return err
		}
		if r.CompareAndSwap(old, next) {
			return nil
		}
	}
}
