package testutil

import (
	"github.com/roach88/knhk/internal/beat"
)

// CounterAt returns a counter whose next Advance issues cycle
// epoch*8 + tick. The cycle must be positive: cycle 0 is never issued.
func CounterAt(epoch uint64, tick uint8) *beat.Counter {
	next := epoch*beat.TicksPerEpoch + uint64(tick)
	if next == 0 {
		panic("testutil.CounterAt: cycle 0 is never issued")
	}
	return beat.NewCounterAt(next - 1)
}
