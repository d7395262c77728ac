package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/knhk/internal/beat"
	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
	"github.com/roach88/knhk/internal/ring"
)

// FiberStatus is what one fiber step did for one domain.
type FiberStatus uint8

const (
	// FiberIdle: the delta slot for the tick was empty.
	FiberIdle FiberStatus = iota
	// FiberCompleted: actions and receipt were written to the assertion ring.
	FiberCompleted
	// FiberParked: the delta went to the overflow sink.
	FiberParked
	// FiberRejected: the delta was dropped with a recoverable error
	// (InvalidBatchBounds, NoHookRegistered or ErrCycleMismatch).
	FiberRejected
	// FiberFailed: the reconciliation failed its provenance check.
	FiberFailed
)

var fiberStatusNames = [...]string{
	FiberIdle:      "idle",
	FiberCompleted: "completed",
	FiberParked:    "parked",
	FiberRejected:  "rejected",
	FiberFailed:    "failed",
}

func (s FiberStatus) String() string {
	if int(s) < len(fiberStatusNames) {
		return fiberStatusNames[s]
	}
	return "unknown"
}

// MarshalText encodes the status by name.
func (s FiberStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FiberResult reports one fiber step for one domain.
type FiberResult struct {
	Domain  int            `json:"domain"`
	Shard   uint8          `json:"shard"`
	Tick    uint8          `json:"tick"`
	Cycle   uint64         `json:"cycle"`
	Status  FiberStatus    `json:"status"`
	Actions uint8          `json:"actions"`
	Output  ir.ActionBatch `json:"-"`
	Receipt ir.Receipt     `json:"-"`
	Delta   ir.Batch       `json:"-"`
	Parked  *ParkedDelta   `json:"parked,omitempty"`
	Err     error          `json:"-"`
}

// Fiber is the per-shard executor. A fiber holds no mutable state; the
// engine runs each shard's fiber on its own goroutine per tick.
type Fiber struct {
	shard uint8
	rec   *reconcile.Reconciler
}

// NewFiber creates the fiber for shard.
func NewFiber(shard uint8, rec *reconcile.Reconciler) *Fiber {
	return &Fiber{shard: shard, rec: rec}
}

// Shard returns the fiber's shard index.
func (f *Fiber) Shard() uint8 {
	return f.shard
}

// Step takes the delta for the beat's cycle from pair, reconciles it
// against snap and writes the result to the assertion ring. Receipts are
// stamped with cycle; a delta tagged with any other cycle is rejected with
// ErrCycleMismatch. The delta slot is released before Step returns,
// whatever the outcome.
func (f *Fiber) Step(domain int, pair *ring.Pair, cycle uint64, snap *hooks.Snapshot) FiberResult {
	tick := beat.Tick(cycle)
	res := FiberResult{Domain: domain, Shard: f.shard, Tick: tick, Cycle: cycle}

	delta, tag, ok := pair.Delta.Dequeue(tick)
	if !ok {
		return res
	}
	defer pair.Delta.Release(tick)
	res.Delta = delta

	if tag != cycle {
		res.Status = FiberRejected
		res.Err = fmt.Errorf("%w: tagged %d, running %d", ErrCycleMismatch, tag, cycle)
		return res
	}

	out, err := f.rec.Reconcile(&delta, snap, reconcile.Stamp{Cycle: cycle, Shard: f.shard})
	if err != nil {
		res.Err = err
		res.Status = FiberRejected
		var re *reconcile.Error
		if errors.As(err, &re) && re.Fatal() {
			res.Status = FiberFailed
		}
		return res
	}

	if out.Status == reconcile.StatusParked {
		res.Status = FiberParked
		res.Parked = &ParkedDelta{
			Domain: domain,
			Tick:   tick,
			Cycle:  cycle,
			Shard:  f.shard,
			Cause:  CauseBudgetExceeded,
			Delta:  delta,
			Budget: out.Parked,
		}
		return res
	}

	assertion := ring.Assertion{Delta: delta, Actions: out.Actions, Receipt: out.Receipt}
	if err := pair.Assertion.Enqueue(tick, assertion, cycle); err != nil {
		res.Status = FiberParked
		res.Err = err
		res.Parked = &ParkedDelta{
			Domain: domain,
			Tick:   tick,
			Cycle:  cycle,
			Shard:  f.shard,
			Cause:  CauseAssertionRingBusy,
			Delta:  delta,
		}
		return res
	}

	res.Status = FiberCompleted
	res.Actions = out.Actions.Len
	res.Output = out.Actions
	res.Receipt = out.Receipt
	return res
}
