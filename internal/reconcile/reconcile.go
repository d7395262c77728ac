package reconcile

import (
	"fmt"
	"math/bits"

	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/kernel"
)

// DefaultBudget is the tick budget of one reconciliation, and its maximum.
const DefaultBudget uint8 = ir.MaxLanes

// Status is the outcome class of a reconciliation.
type Status uint8

const (
	// StatusCompleted: actions and receipt were produced.
	StatusCompleted Status = iota
	// StatusParked: the budget would have been exceeded; nothing was produced.
	StatusParked
)

func (s Status) String() string {
	if s == StatusParked {
		return "parked"
	}
	return "completed"
}

// Stamp places a reconciliation in time and space.
type Stamp struct {
	Cycle uint64
	Shard uint8
}

// Tick returns the stamp's tick (cycle mod 8).
func (s Stamp) Tick() uint8 {
	return uint8(s.Cycle & (ir.MaxLanes - 1))
}

// Parked describes a delta deferred because it needs more ticks than the
// budget allows.
type Parked struct {
	Delta  ir.Batch `json:"delta"`
	Cycle  uint64   `json:"cycle"`
	Shard  uint8    `json:"shard"`
	Spent  uint8    `json:"spent"`  // cost charged before the overflowing group
	Needed uint8    `json:"needed"` // Spent plus the overflowing group's cost
	Budget uint8    `json:"budget"`
	HookID uint64   `json:"hook_id"` // hook whose group overflowed
}

// Result is the output of Reconcile.
type Result struct {
	Status  Status
	Actions ir.ActionBatch
	Receipt ir.Receipt
	Parked  *Parked // set iff Status == StatusParked
}

// projector turns satisfied rows into actions.
type projector func(delta *ir.Batch, rows uint8, outcomes *[ir.MaxLanes]ir.Outcome) ir.ActionBatch

// Reconciler applies μ with a fixed budget.
// A Reconciler is immutable and safe for concurrent use.
type Reconciler struct {
	budget  uint8
	project projector
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithBudget sets the tick budget (1..DefaultBudget).
func WithBudget(ticks uint8) Option {
	return func(r *Reconciler) {
		r.budget = ticks
	}
}

// New creates a Reconciler. Returns an error if the budget is 0 or above
// DefaultBudget.
func New(opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		budget:  DefaultBudget,
		project: projectActions,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.budget == 0 || r.budget > DefaultBudget {
		return nil, fmt.Errorf("budget %d out of range 1..%d", r.budget, DefaultBudget)
	}
	return r, nil
}

// Budget returns the configured tick budget.
func (r *Reconciler) Budget() uint8 {
	return r.budget
}

var defaultReconciler, _ = New()

// Reconcile applies μ with DefaultBudget.
func Reconcile(delta *ir.Batch, snap *hooks.Snapshot, stamp Stamp) (Result, error) {
	return defaultReconciler.Reconcile(delta, snap, stamp)
}

type group struct {
	hook *hooks.Hook
	rows uint8
}

// Reconcile applies μ to delta using hooks from snap.
//
// Returns an *Error with code InvalidBatchBounds or NoHookRegistered before
// any kernel runs, or ProvenanceMismatch after. A parked delta is a Result
// with StatusParked and a nil error.
func (r *Reconciler) Reconcile(delta *ir.Batch, snap *hooks.Snapshot, stamp Stamp) (Result, error) {
	if err := delta.Validate(); err != nil {
		return Result{}, newBoundsError(err)
	}

	// Resolve hooks and group rows by hook, in order of first appearance.
	var groups [ir.MaxLanes]group
	n := 0
	for i := 0; i < int(delta.Len); i++ {
		pred := delta.P[i]
		if pred == 0 {
			continue
		}
		h, ok := snap.Lookup(pred)
		if !ok {
			return Result{}, newNoHookError(i, pred, stamp.Cycle)
		}
		g := 0
		for g < n && groups[g].hook.ID != h.ID {
			g++
		}
		if g == n {
			groups[n] = group{hook: h}
			n++
		}
		groups[g].rows |= 1 << i
	}

	// Dispatch each group once. The kind's cost is charged before the
	// kernel runs; the receipt records the cost Dispatch reports.
	meter := newBudgetMeter(r.budget)
	tick := stamp.Tick()
	var (
		satisfied uint8
		outcomes  [ir.MaxLanes]ir.Outcome
		charges   [ir.MaxLanes]ir.Charge
	)
	for g := 0; g < n; g++ {
		h := groups[g].hook
		cost := h.Kind.Cost()
		if !meter.Charge(cost) {
			return Result{
				Status: StatusParked,
				Parked: &Parked{
					Delta:  *delta,
					Cycle:  stamp.Cycle,
					Shard:  stamp.Shard,
					Spent:  meter.Spent(),
					Needed: meter.Spent() + cost,
					Budget: meter.Limit(),
					HookID: h.ID,
				},
			}, nil
		}

		mask, spent := kernel.Dispatch(h.Kind, delta, groups[g].rows, &h.Params)
		satisfied |= mask
		for m := mask; m != 0; m &= m - 1 {
			outcomes[bits.TrailingZeros8(m)] = h.Kind.Outcome()
		}
		charges[g] = ir.Charge{Tick: tick, HookID: h.ID, Cost: spent}
	}

	actions := r.project(delta, satisfied, &outcomes)

	laneMask := satisfied << delta.Base
	expected := ir.DigestRows(delta, laneMask)
	actual := actions.Digest()
	if expected != actual || actions.LaneMask() != laneMask {
		return Result{}, newProvenanceError(stamp.Cycle, expected, actual)
	}

	return Result{
		Status:  StatusCompleted,
		Actions: actions,
		Receipt: ir.NewTickReceipt(stamp.Cycle, stamp.Shard, laneMask, actual, charges[:n]),
	}, nil
}

// projectActions emits one action per satisfied row, in row order.
func projectActions(delta *ir.Batch, rows uint8, outcomes *[ir.MaxLanes]ir.Outcome) ir.ActionBatch {
	var out ir.ActionBatch
	for m := rows; m != 0; m &= m - 1 {
		i := bits.TrailingZeros8(m)
		out.Append(ir.Action{
			Lane:    delta.Base + uint8(i),
			Outcome: outcomes[i],
			Source:  delta.Row(i),
		})
	}
	return out
}
