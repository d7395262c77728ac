package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
)

// CycleSource yields committed cycle records in epoch order.
type CycleSource interface {
	ReadCycles(ctx context.Context) ([]*ir.CycleRecord, error)
}

// Divergence is one recorded tick whose recomputation disagreed.
type Divergence struct {
	Epoch    uint64    `json:"epoch"`
	Domain   int       `json:"domain"`
	Tick     uint8     `json:"tick"`
	CycleID  uint64    `json:"cycle_id"`
	Expected ir.Digest `json:"expected"`
	Actual   ir.Digest `json:"actual"`
	Reason   string    `json:"reason"`
}

// ReplayReport summarizes a replay.
type ReplayReport struct {
	Cycles      int          `json:"cycles"`
	Ticks       int          `json:"ticks"`
	Divergences []Divergence `json:"divergences,omitempty"`
}

// OK reports whether every tick reproduced.
func (r *ReplayReport) OK() bool {
	return len(r.Divergences) == 0
}

// Replay recomputes every recorded tick with rec against snap and compares
// the actions and receipt with what was committed. Each record's own digest
// is verified as well. Divergences are collected, not returned as errors;
// the error is for records that cannot be replayed at all.
func Replay(ctx context.Context, records []*ir.CycleRecord, snap *hooks.Snapshot, rec *reconcile.Reconciler) (*ReplayReport, error) {
	report := &ReplayReport{}
	for _, cr := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Cycles++

		if err := cr.Verify(); err != nil {
			report.Divergences = append(report.Divergences, Divergence{
				Epoch:    cr.Epoch,
				Domain:   -1,
				Expected: cr.Digest,
				Reason:   err.Error(),
			})
		}

		for _, tr := range cr.Ticks {
			report.Ticks++
			if d, ok := replayTick(cr.Epoch, &tr, snap, rec); !ok {
				report.Divergences = append(report.Divergences, d)
			}
		}
	}
	return report, nil
}

// ReplayFrom reads every cycle from src and replays it.
func ReplayFrom(ctx context.Context, src CycleSource, snap *hooks.Snapshot, rec *reconcile.Reconciler) (*ReplayReport, error) {
	records, err := src.ReadCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cycles: %w", err)
	}
	return Replay(ctx, records, snap, rec)
}

func replayTick(epoch uint64, tr *ir.TickRecord, snap *hooks.Snapshot, rec *reconcile.Reconciler) (Divergence, bool) {
	div := Divergence{
		Epoch:    epoch,
		Domain:   tr.Domain,
		Tick:     tr.Tick,
		CycleID:  tr.CycleID,
		Expected: tr.Receipt.Digest,
	}

	stamp := reconcile.Stamp{Cycle: tr.CycleID, Shard: tr.Receipt.ShardID}
	out, err := rec.Reconcile(&tr.Delta, snap, stamp)
	switch {
	case err != nil:
		var re *reconcile.Error
		if errors.As(err, &re) {
			div.Reason = string(re.Code)
		} else {
			div.Reason = err.Error()
		}
		return div, false
	case out.Status == reconcile.StatusParked:
		div.Reason = "parked on replay"
		return div, false
	}

	div.Actual = out.Receipt.Digest
	switch {
	case out.Receipt.Digest != tr.Receipt.Digest:
		div.Reason = "receipt digest differs"
	case out.Receipt.TickCost != tr.Receipt.TickCost:
		div.Reason = fmt.Sprintf("tick cost %d, recorded %d", out.Receipt.TickCost, tr.Receipt.TickCost)
	case out.Actions != tr.Actions:
		div.Reason = "actions differ"
	default:
		return div, true
	}
	return div, false
}
