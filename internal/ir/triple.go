package ir

import (
	"errors"
	"fmt"
)

// MaxLanes is the fixed lane width of a Batch and the number of ticks per
// epoch. Eight 64-bit identifiers fill exactly one cache line.
const MaxLanes = 8

// ErrBatchBounds is returned when a batch would hold more than MaxLanes rows
// or its lane window does not fit inside the 8-lane frame.
var ErrBatchBounds = errors.New("batch exceeds lane bounds")

// ErrUnboundPredicate is returned for an observed row whose predicate is
// the unbound identifier 0. Only ActionBatch.AsDelta produces such rows
// (holes); producers may not.
var ErrUnboundPredicate = errors.New("row has unbound predicate")

// Triple is a single (subject, predicate, object) observation.
// Identifiers are opaque; identifier assignment is external.
type Triple struct {
	S uint64 `json:"s"`
	P uint64 `json:"p"`
	O uint64 `json:"o"`
}

// String renders the triple as "(s, p, o)".
func (t Triple) String() string {
	return fmt.Sprintf("(%d, %d, %d)", t.S, t.P, t.O)
}

// DatatypeOf returns the datatype tag carried in the top 8 bits of an
// object identifier.
func DatatypeOf(o uint64) uint8 {
	return uint8(o >> 56)
}

// Batch is an ordered run of up to MaxLanes triples in structure-of-arrays
// form. Row i occupies lane Base+i of the 8-lane frame it belongs to; Base is
// non-zero only for the tail half of a Split.
//
// The three identifier arrays are one cache line each and the struct is
// padded to a 256-byte stride so adjacent batches in a ring never share a
// line.
type Batch struct {
	S    [MaxLanes]uint64 `json:"s"`
	P    [MaxLanes]uint64 `json:"p"`
	O    [MaxLanes]uint64 `json:"o"`
	Len  uint8            `json:"len"`
	Base uint8            `json:"base,omitempty"`
	_    [62]byte
}

// NewBatch builds a batch from triples in order.
// Returns ErrBatchBounds if more than MaxLanes triples are given.
func NewBatch(triples ...Triple) (Batch, error) {
	var b Batch
	if len(triples) > MaxLanes {
		return b, fmt.Errorf("%w: %d rows > %d", ErrBatchBounds, len(triples), MaxLanes)
	}
	for i, t := range triples {
		b.S[i], b.P[i], b.O[i] = t.S, t.P, t.O
	}
	b.Len = uint8(len(triples))
	return b, nil
}

// MustBatch is like NewBatch but panics on error.
// Intended for tests and static fixtures.
func MustBatch(triples ...Triple) Batch {
	b, err := NewBatch(triples...)
	if err != nil {
		panic(err)
	}
	return b
}

// Validate checks Len <= MaxLanes and that the lane window fits the frame.
func (b *Batch) Validate() error {
	if b.Len > MaxLanes {
		return fmt.Errorf("%w: %d rows > %d", ErrBatchBounds, b.Len, MaxLanes)
	}
	if int(b.Base)+int(b.Len) > MaxLanes {
		return fmt.Errorf("%w: base %d + len %d > %d", ErrBatchBounds, b.Base, b.Len, MaxLanes)
	}
	return nil
}

// CheckBound returns ErrUnboundPredicate if any row has predicate 0.
func (b *Batch) CheckBound() error {
	for i := 0; i < int(b.Len) && i < MaxLanes; i++ {
		if b.P[i] == 0 {
			return fmt.Errorf("%w: row %d", ErrUnboundPredicate, i)
		}
	}
	return nil
}

// Row returns row i. The caller guarantees i < Len.
func (b *Batch) Row(i int) Triple {
	return Triple{S: b.S[i], P: b.P[i], O: b.O[i]}
}

// Triples returns the rows as a slice, in order.
func (b *Batch) Triples() []Triple {
	out := make([]Triple, b.Len)
	for i := range out {
		out[i] = b.Row(i)
	}
	return out
}

// RowMask returns a bitmask with one bit per occupied row (bit i = row i).
func (b *Batch) RowMask() uint8 {
	return uint8(uint16(1)<<(b.Len&0xF) - 1)
}

// Split partitions the batch into the first k rows and the rest, preserving
// order. The tail half keeps its original lane positions via Base, so
// B == B1 ++ B2 lane for lane.
func (b *Batch) Split(k int) (Batch, Batch, error) {
	if err := b.Validate(); err != nil {
		return Batch{}, Batch{}, err
	}
	if k < 0 || k > int(b.Len) {
		return Batch{}, Batch{}, fmt.Errorf("%w: split at %d of %d rows", ErrBatchBounds, k, b.Len)
	}

	head := Batch{Len: uint8(k), Base: b.Base}
	tail := Batch{Len: b.Len - uint8(k), Base: b.Base + uint8(k)}
	for i := 0; i < k; i++ {
		head.S[i], head.P[i], head.O[i] = b.S[i], b.P[i], b.O[i]
	}
	for i := k; i < int(b.Len); i++ {
		j := i - k
		tail.S[j], tail.P[j], tail.O[j] = b.S[i], b.P[i], b.O[i]
	}
	return head, tail, nil
}
