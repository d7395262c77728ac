package ring

import (
	"context"
	"runtime"
)

// EnqueueRetry retries Enqueue while the slot is busy, yielding the
// processor between attempts, for at most maxSpins attempts.
// Any other rejection is returned immediately.
func EnqueueRetry[T any](ctx context.Context, r *Ring[T], tick uint8, v T, cycle uint64, maxSpins int) error {
	var err error
	for i := 0; i < max(maxSpins, 1); i++ {
		if err = r.Enqueue(tick, v, cycle); err == nil || !IsSlotBusy(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		runtime.Gosched()
	}
	return err
}
