package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knhk/internal/beat"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/kernel"
)

func TestRows(t *testing.T) {
	assert.Equal(t, []ir.Triple{{S: 1, P: 2, O: 3}, {S: 4, P: 5, O: 6}}, Rows(1, 2, 3, 4, 5, 6))
	assert.Empty(t, Rows())
	assert.Panics(t, func() { Rows(1, 2) })
}

func TestSnapshot(t *testing.T) {
	snap := Snapshot(t, Exists(1, 100), Compare(2, 200, kernel.OpGE, 18))
	assert.Equal(t, 2, snap.Len())

	h, ok := snap.Lookup(200)
	require.True(t, ok)
	assert.Equal(t, kernel.KindCompare, h.Kind)
	assert.Equal(t, "cmp-200", h.Name)
	assert.Equal(t, uint64(18), h.Params.Threshold)

	reg := Registry(t, Exists(1, 100))
	_, ok = reg.Lookup(100)
	assert.True(t, ok)
}

func TestTickRecord(t *testing.T) {
	snap := Snapshot(t, Exists(1, 100), Compare(2, 200, kernel.OpGE, 18))
	tr := TickRecord(t, snap, 1, 11, Rows(1, 100, 5, 2, 200, 30, 3, 200, 12)...)

	assert.Equal(t, 1, tr.Domain)
	assert.Equal(t, uint8(3), tr.Tick)
	assert.Equal(t, uint64(11), tr.CycleID)
	assert.Equal(t, uint8(2), tr.Actions.Len)
	assert.Equal(t, uint8(3), tr.Receipt.TickCost)
	assert.Equal(t, tr.Actions.Digest(), tr.Receipt.Digest)

	rec := CycleRecord(t, "run", 1, 2, tr)
	assert.NoError(t, rec.Verify())
	assert.Equal(t, uint64(11), rec.CycleID)
	assert.True(t, rec.Receipts[0].IsEmpty())
}

func TestCounterAt(t *testing.T) {
	s := beat.NewScheduler(CounterAt(2, 0))
	b := s.Advance()
	assert.Equal(t, uint64(16), b.Cycle)
	assert.True(t, b.Pulse)

	s = beat.NewScheduler(CounterAt(0, 1))
	assert.Equal(t, uint64(1), s.Advance().Cycle)

	assert.Panics(t, func() { CounterAt(0, 0) })
}

func TestFixedRunID(t *testing.T) {
	assert.Equal(t, "run-a", FixedRunID("run-a").Generate())
	assert.Equal(t, "run-a", FixedRunID("run-a").Generate())
	assert.Equal(t, DefaultRunID, FixedRunID("").Generate())
}
