package warm

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/knhk/internal/engine"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/ring"
)

// ErrUnsplittable is returned for a single-row delta that alone exceeds
// the budget.
var ErrUnsplittable = errors.New("single row exceeds tick budget")

// Submitter is the engine entry point the handler feeds back into.
type Submitter interface {
	Submit(domain int, delta ir.Batch) (uint64, error)
}

// Resubmit returns a Handler that feeds parked deltas back to sub.
//
// A delta parked for budget is split in half and both halves are submitted;
// Split keeps lane positions, so the halves' receipts merge to the
// receipt the whole delta would have had for row-local hooks. A delta
// parked because its assertion slot was busy is submitted as is. When the
// delta ring has no free slot the delta is parked on q again.
func (q *Queue) Resubmit(sub Submitter) Handler {
	return func(ctx context.Context, p engine.ParkedDelta) error {
		parts := []ir.Batch{p.Delta}
		if p.Cause == engine.CauseBudgetExceeded {
			if p.Delta.Len < 2 {
				return fmt.Errorf("domain %d cycle %d: %w", p.Domain, p.Cycle, ErrUnsplittable)
			}
			head, tail, err := p.Delta.Split(int(p.Delta.Len) / 2)
			if err != nil {
				return err
			}
			parts = []ir.Batch{head, tail}
		}

		for _, part := range parts {
			_, err := sub.Submit(p.Domain, part)
			switch {
			case err == nil:
			case ring.IsSlotBusy(err):
				again := p
				again.Delta = part
				if perr := q.Park(ctx, again); perr != nil {
					return fmt.Errorf("re-park domain %d: %w", p.Domain, perr)
				}
			default:
				return fmt.Errorf("resubmit domain %d: %w", p.Domain, err)
			}
		}
		return nil
	}
}
