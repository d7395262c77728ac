package engine

import (
	"context"

	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
)

// ProvenanceLog receives each committed cycle exactly once, in epoch order.
// Implementations must be append-only.
type ProvenanceLog interface {
	Append(ctx context.Context, rec *ir.CycleRecord) error
}

// ActionEmitter delivers a committed cycle's actions downstream. Called
// once per committed cycle, after the provenance log accepted it.
type ActionEmitter interface {
	Emit(ctx context.Context, rec *ir.CycleRecord) error
}

// OverflowSink accepts deltas the hot path could not finish.
// Park must not block on I/O; the fiber calls it inline.
type OverflowSink interface {
	Park(ctx context.Context, p ParkedDelta) error
}

// ParkCause says why a delta left the hot path.
type ParkCause uint8

const (
	// CauseBudgetExceeded: reconciling would exceed the tick budget.
	CauseBudgetExceeded ParkCause = iota + 1
	// CauseAssertionRingBusy: the assertion slot for the tick was still
	// occupied when the fiber finished.
	CauseAssertionRingBusy
)

func (c ParkCause) String() string {
	switch c {
	case CauseBudgetExceeded:
		return "budget_exceeded"
	case CauseAssertionRingBusy:
		return "assertion_ring_busy"
	}
	return "unknown"
}

// MarshalText encodes the cause by name.
func (c ParkCause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParkedDelta is a delta handed to the overflow sink.
type ParkedDelta struct {
	Domain int               `json:"domain"`
	Tick   uint8             `json:"tick"`
	Cycle  uint64            `json:"cycle"`
	Shard  uint8             `json:"shard"`
	Cause  ParkCause         `json:"cause"`
	Delta  ir.Batch          `json:"delta"`
	Budget *reconcile.Parked `json:"budget,omitempty"` // set for CauseBudgetExceeded
}

// MismatchEvent is raised when a reconciliation fails its provenance check.
type MismatchEvent struct {
	Domain   int
	Shard    uint8
	Cycle    uint64
	Delta    ir.Batch
	Expected ir.Digest
	Actual   ir.Digest
	Err      error
}

// MismatchHandler is the operator alarm for provenance mismatches.
// It runs on the engine goroutine and must return quickly.
type MismatchHandler func(MismatchEvent)
