package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/knhk/internal/beat"
	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
)

// Rows turns a flat s, p, o, s, p, o, ... list into triples.
func Rows(spo ...uint64) []ir.Triple {
	if len(spo)%3 != 0 {
		panic("testutil.Rows: want a multiple of three identifiers")
	}
	out := make([]ir.Triple, 0, len(spo)/3)
	for i := 0; i < len(spo); i += 3 {
		out = append(out, ir.Triple{S: spo[i], P: spo[i+1], O: spo[i+2]})
	}
	return out
}

// Batch builds a batch from triples.
func Batch(t testing.TB, triples ...ir.Triple) ir.Batch {
	t.Helper()
	b, err := ir.NewBatch(triples...)
	require.NoError(t, err)
	return b
}

// TickRecord reconciles triples against snap at cycle with the default
// budget and returns what a fiber would have committed for domain.
func TickRecord(t testing.TB, snap *hooks.Snapshot, domain int, cycle uint64, triples ...ir.Triple) ir.TickRecord {
	t.Helper()
	delta := Batch(t, triples...)
	res, err := reconcile.Reconcile(&delta, snap, reconcile.Stamp{Cycle: cycle})
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusCompleted, res.Status, "delta parked")
	return ir.TickRecord{
		Domain:  domain,
		Tick:    beat.Tick(cycle),
		CycleID: cycle,
		Delta:   delta,
		Actions: res.Actions,
		Receipt: res.Receipt,
	}
}

// CycleRecord seals ticks into a committed cycle record.
func CycleRecord(t testing.TB, runID string, epoch uint64, domains int, ticks ...ir.TickRecord) *ir.CycleRecord {
	t.Helper()
	rec, err := ir.NewCycleRecord(runID, epoch, domains, ticks)
	require.NoError(t, err)
	return rec
}
