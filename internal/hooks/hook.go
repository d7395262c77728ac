package hooks

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/kernel"
)

var (
	// ErrDuplicatePredicate is returned when two hooks claim one predicate.
	ErrDuplicatePredicate = errors.New("duplicate predicate")

	// ErrDuplicateID is returned when two hooks share an ID.
	ErrDuplicateID = errors.New("duplicate hook id")

	// ErrInvalidHook is returned for hooks with a reserved ID or predicate,
	// an unknown kind, or parameters the kind cannot use.
	ErrInvalidHook = errors.New("invalid hook")
)

// Hook binds a predicate to a kernel and its parameters.
//
// ID 0 and ir.MixedHook are reserved by receipt merging; predicate 0 is the
// unbound identifier and marks holes in a batch.
type Hook struct {
	ID        uint64        `json:"id"`
	Name      string        `json:"name"`
	Predicate uint64        `json:"predicate"`
	Kind      kernel.Kind   `json:"kind"`
	Params    kernel.Params `json:"params"`
}

// Validate checks the hook in isolation.
func (h *Hook) Validate() error {
	if h.ID == ir.NoHook || h.ID == ir.MixedHook {
		return fmt.Errorf("%w: hook %q: id %d is reserved", ErrInvalidHook, h.Name, h.ID)
	}
	if h.Predicate == 0 {
		return fmt.Errorf("%w: hook %q: predicate 0 is the unbound identifier", ErrInvalidHook, h.Name)
	}
	if err := h.Params.Validate(h.Kind); err != nil {
		return fmt.Errorf("%w: hook %q: %v", ErrInvalidHook, h.Name, err)
	}
	return nil
}

// Snapshot is an immutable predicate → hook mapping.
type Snapshot struct {
	version     uint64
	hooks       []Hook // sorted by ID
	byPredicate map[uint64]*Hook
	fingerprint uint64
}

// NewSnapshot validates hooks and builds a snapshot.
// Returns ErrDuplicatePredicate, ErrDuplicateID or ErrInvalidHook.
func NewSnapshot(version uint64, hooks ...Hook) (*Snapshot, error) {
	s := &Snapshot{
		version:     version,
		hooks:       slices.Clone(hooks),
		byPredicate: make(map[uint64]*Hook, len(hooks)),
	}
	slices.SortFunc(s.hooks, func(a, b Hook) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	for i := range s.hooks {
		h := &s.hooks[i]
		if err := h.Validate(); err != nil {
			return nil, err
		}
		if i > 0 && s.hooks[i-1].ID == h.ID {
			return nil, fmt.Errorf("%w: %d (%q and %q)", ErrDuplicateID, h.ID, s.hooks[i-1].Name, h.Name)
		}
		if prev, ok := s.byPredicate[h.Predicate]; ok {
			return nil, fmt.Errorf("%w: predicate %d claimed by %q and %q", ErrDuplicatePredicate, h.Predicate, prev.Name, h.Name)
		}
		s.byPredicate[h.Predicate] = h
	}

	s.fingerprint = fingerprint(s.hooks)
	return s, nil
}

// MustSnapshot is like NewSnapshot but panics on error.
// Intended for tests and static fixtures.
func MustSnapshot(version uint64, hooks ...Hook) *Snapshot {
	s, err := NewSnapshot(version, hooks...)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup returns the hook for pred. The returned hook must not be modified.
func (s *Snapshot) Lookup(pred uint64) (*Hook, bool) {
	h, ok := s.byPredicate[pred]
	return h, ok
}

// Version returns the configuration version the snapshot was built from.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Fingerprint is a content hash of the hooks, independent of version and
// declaration order.
func (s *Snapshot) Fingerprint() uint64 {
	return s.fingerprint
}

// Len returns the number of hooks.
func (s *Snapshot) Len() int {
	return len(s.hooks)
}

// Hooks returns a copy of the hooks sorted by ID.
func (s *Snapshot) Hooks() []Hook {
	return slices.Clone(s.hooks)
}

// With returns a new snapshot holding s's hooks plus h, at version+1.
func (s *Snapshot) With(h Hook) (*Snapshot, error) {
	return NewSnapshot(s.version+1, append(s.Hooks(), h)...)
}

// fingerprint hashes NFC-normalized names and the binary hook fields, in ID
// order, with xxhash64.
func fingerprint(hooks []Hook) uint64 {
	d := xxhash.New()
	var buf [8*5 + 1]byte
	for i := range hooks {
		h := &hooks[i]
		d.WriteString(norm.NFC.String(h.Name))
		d.Write([]byte{0x00})

		binary.BigEndian.PutUint64(buf[0:], h.ID)
		binary.BigEndian.PutUint64(buf[8:], h.Predicate)
		binary.BigEndian.PutUint64(buf[16:], h.Params.Subject)
		binary.BigEndian.PutUint64(buf[24:], h.Params.Object)
		binary.BigEndian.PutUint64(buf[32:], h.Params.Threshold)
		buf[40] = byte(h.Kind)<<4 | byte(h.Params.Op)
		d.Write(buf[:])
		d.Write([]byte{h.Params.Datatype})
	}
	return d.Sum64()
}
