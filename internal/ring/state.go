package ring

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a ring slot.
type State uint32

const (
	StateEmpty     State = iota
	StateFilled          // delta written, waiting for its tick
	StateExecuting       // delta taken by a fiber
	StateCommitted       // assertion written, waiting for cycle commit
	StateDrained         // assertion being copied out by cycle commit

	// stateWriting is held while a producer copies a value into the slot.
	stateWriting
)

var stateNames = [...]string{
	StateEmpty:     "EMPTY",
	StateFilled:    "FILLED",
	StateExecuting: "EXECUTING",
	StateCommitted: "COMMITTED",
	StateDrained:   "DRAINED",
	stateWriting:   "WRITING",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Sentinel errors for errors.Is matching.
var (
	ErrSlotBusy     = errors.New("ring slot busy")
	ErrInvalidTick  = errors.New("tick index out of range")
	ErrTickMismatch = errors.New("cycle id does not map to tick")
	ErrNotExecuting = errors.New("ring slot not executing")
)

// Error describes a rejected ring operation.
type Error struct {
	Err   error  // one of the sentinels above, or a validation error
	Ring  string // "delta" or "assertion"
	Tick  uint8
	Cycle uint64
	State State // slot state observed when the operation was rejected
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s ring tick %d (cycle %d, state %s): %v", e.Ring, e.Tick, e.Cycle, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsSlotBusy reports whether err is a full-slot rejection.
func IsSlotBusy(err error) bool {
	return errors.Is(err, ErrSlotBusy)
}
