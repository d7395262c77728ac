package ring

import (
	"sync/atomic"

	"github.com/roach88/knhk/internal/ir"
)

// Slots is the number of slots per ring, one per tick.
const Slots = ir.MaxLanes

const cacheLine = 64

type slot[T any] struct {
	state atomic.Uint32
	cycle uint64
	value T
	_     [cacheLine]byte
}

// Ring is a fixed ring of Slots slots holding T.
//
// The ring kind fixes which states mean "written" and "taken": delta rings
// use FILLED and EXECUTING, assertion rings COMMITTED and DRAINED.
type Ring[T any] struct {
	name     string
	written  State
	taken    State
	release  bool // taken slots stay taken until Release
	validate func(*T) error
	slots    [Slots]slot[T]
}

// DeltaRing holds incoming batches by tick.
type DeltaRing = Ring[ir.Batch]

// Assertion is the output of one fiber step, held until cycle commit.
type Assertion struct {
	Delta   ir.Batch       `json:"delta"`
	Actions ir.ActionBatch `json:"actions"`
	Receipt ir.Receipt     `json:"receipt"`
}

// AssertionRing holds fiber outputs by tick.
type AssertionRing = Ring[Assertion]

// NewDeltaRing creates an empty delta ring. Enqueued batches are validated
// against lane bounds.
func NewDeltaRing() *DeltaRing {
	return &DeltaRing{
		name:     "delta",
		written:  StateFilled,
		taken:    StateExecuting,
		release:  true,
		validate: (*ir.Batch).Validate,
	}
}

// NewAssertionRing creates an empty assertion ring.
func NewAssertionRing() *AssertionRing {
	return &AssertionRing{
		name:    "assertion",
		written: StateCommitted,
		taken:   StateDrained,
	}
}

// Pair is the delta and assertion ring of one reconciliation domain.
type Pair struct {
	Delta     *DeltaRing
	Assertion *AssertionRing
}

// NewPair creates an empty ring pair.
func NewPair() *Pair {
	return &Pair{Delta: NewDeltaRing(), Assertion: NewAssertionRing()}
}

func (r *Ring[T]) fail(err error, tick uint8, cycle uint64) *Error {
	e := &Error{Err: err, Ring: r.name, Tick: tick, Cycle: cycle}
	if tick < Slots {
		e.State = State(r.slots[tick].state.Load())
	}
	return e
}

// Enqueue writes v into the slot for tick, tagged with cycle.
//
// Returns ErrInvalidTick if tick >= Slots, ErrTickMismatch if cycle mod 8 !=
// tick, and ErrSlotBusy if the slot is occupied. Never blocks.
func (r *Ring[T]) Enqueue(tick uint8, v T, cycle uint64) error {
	if tick >= Slots {
		return r.fail(ErrInvalidTick, tick, cycle)
	}
	if uint8(cycle%Slots) != tick {
		return r.fail(ErrTickMismatch, tick, cycle)
	}
	if r.validate != nil {
		if err := r.validate(&v); err != nil {
			return r.fail(err, tick, cycle)
		}
	}

	s := &r.slots[tick]
	if !s.state.CompareAndSwap(uint32(StateEmpty), uint32(stateWriting)) {
		return r.fail(ErrSlotBusy, tick, cycle)
	}
	s.value = v
	s.cycle = cycle
	s.state.Store(uint32(r.written))
	return nil
}

// Dequeue takes the value for tick if one was written.
// Returns ok=false if the slot holds nothing to take.
//
// Delta slots stay EXECUTING until Release; assertion slots are freed as
// soon as the value is copied out.
func (r *Ring[T]) Dequeue(tick uint8) (v T, cycle uint64, ok bool) {
	if tick >= Slots {
		return v, 0, false
	}
	s := &r.slots[tick]
	if !s.state.CompareAndSwap(uint32(r.written), uint32(r.taken)) {
		return v, 0, false
	}
	v, cycle = s.value, s.cycle
	if !r.release {
		var zero T
		s.value = zero
		s.state.Store(uint32(StateEmpty))
	}
	return v, cycle, true
}

// Release frees a taken delta slot (EXECUTING → EMPTY).
// Returns ErrNotExecuting if the slot was not taken.
func (r *Ring[T]) Release(tick uint8) error {
	if tick >= Slots {
		return r.fail(ErrInvalidTick, tick, 0)
	}
	s := &r.slots[tick]
	if State(s.state.Load()) != r.taken {
		return r.fail(ErrNotExecuting, tick, 0)
	}
	cycle := s.cycle
	var zero T
	s.value = zero
	if !s.state.CompareAndSwap(uint32(r.taken), uint32(StateEmpty)) {
		return r.fail(ErrNotExecuting, tick, cycle)
	}
	return nil
}

// State returns the current state of the slot for tick.
func (r *Ring[T]) State(tick uint8) State {
	if tick >= Slots {
		return StateEmpty
	}
	return State(r.slots[tick].state.Load())
}

// Occupied returns a bitmask of slots that are not EMPTY.
func (r *Ring[T]) Occupied() uint8 {
	var mask uint8
	for t := range r.slots {
		if State(r.slots[t].state.Load()) != StateEmpty {
			mask |= 1 << t
		}
	}
	return mask
}
