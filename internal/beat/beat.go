package beat

import (
	"sync/atomic"

	"github.com/roach88/knhk/internal/ir"
)

// TicksPerEpoch is the number of ticks between pulses.
const TicksPerEpoch = ir.MaxLanes

// Counter is the global cycle counter.
//
// Thread-safety: Counter is safe for concurrent use (atomic operations).
// Only a Scheduler can advance it.
type Counter struct {
	cycle atomic.Uint64
}

// NewCounter creates a counter at cycle 0.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter at a specific cycle.
// Used for replay to resume from last committed position.
func NewCounterAt(start uint64) *Counter {
	c := &Counter{}
	c.cycle.Store(start)
	return c
}

// Current returns the last issued cycle without advancing.
func (c *Counter) Current() uint64 {
	return c.cycle.Load()
}

// Beat is the result of one Advance.
type Beat struct {
	Cycle uint64 `json:"cycle"`
	Tick  uint8  `json:"tick"`
	Pulse bool   `json:"pulse"`
}

// Epoch returns the epoch the beat's cycle belongs to.
func (b Beat) Epoch() uint64 {
	return EpochOf(b.Cycle)
}

// Closes returns the epoch a pulse completes: the one before b's epoch.
// ok is false for beats that are not pulses, and for the pulse at cycle 0.
func (b Beat) Closes() (epoch uint64, ok bool) {
	if !b.Pulse || b.Cycle == 0 {
		return 0, false
	}
	return b.Epoch() - 1, true
}

// Scheduler advances a Counter and classifies each cycle.
type Scheduler struct {
	counter *Counter
}

// NewScheduler creates a scheduler that owns counter.
// A nil counter starts a fresh one at cycle 0.
func NewScheduler(counter *Counter) *Scheduler {
	if counter == nil {
		counter = NewCounter()
	}
	return &Scheduler{counter: counter}
}

// Advance increments the cycle and returns the new beat.
// Calls are linearizable: concurrent callers each receive a distinct cycle.
func (s *Scheduler) Advance() Beat {
	c := s.counter.cycle.Add(1)
	return Beat{Cycle: c, Tick: Tick(c), Pulse: IsPulse(c)}
}

// Current returns the last issued cycle.
func (s *Scheduler) Current() uint64 {
	return s.counter.Current()
}

// Next returns the cycle the next Advance will issue. Producers use it to
// target the upcoming tick.
func (s *Scheduler) Next() uint64 {
	return s.counter.Current() + 1
}

// Tick returns cycle mod 8.
func Tick(cycle uint64) uint8 {
	return uint8(cycle & (TicksPerEpoch - 1))
}

// IsPulse reports whether cycle is the first tick of an epoch.
// Computed without branches: (cycle&7)-1 underflows only when cycle&7 == 0.
func IsPulse(cycle uint64) bool {
	return ((cycle&(TicksPerEpoch-1))-1)>>63 == 1
}

// EpochOf returns cycle / 8.
func EpochOf(cycle uint64) uint64 {
	return cycle >> 3
}
