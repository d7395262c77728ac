package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
	"github.com/roach88/knhk/internal/testutil"
)

func runRecorded(t *testing.T) (*recorder, *hooks.Snapshot) {
	t.Helper()
	rec := &recorder{}
	e := newTestEngine(t, rec, WithDomains(2), WithShards(2))

	feed := []ir.Batch{
		ir.MustBatch(ir.Triple{S: 1, P: predName, O: 1}, ir.Triple{S: 1, P: predAge, O: 30}),
		ir.MustBatch(ir.Triple{S: 2, P: predEmail, O: 7}),
		ir.MustBatch(ir.Triple{S: 3, P: predName, O: 2}),
	}
	for i, b := range feed {
		_, err := e.Submit(i%2, b)
		require.NoError(t, err)
	}
	_, err := e.Settle(context.Background(), 64)
	require.NoError(t, err)
	require.NotEmpty(t, rec.records)
	return rec, testRegistry(t).Load()
}

func TestReplay_ReproducesCommittedCycles(t *testing.T) {
	rec, snap := runRecorded(t)
	r, err := reconcile.New()
	require.NoError(t, err)

	report, err := ReplayFrom(context.Background(), rec, snap, r)
	require.NoError(t, err)
	assert.True(t, report.OK(), "divergences: %+v", report.Divergences)
	assert.Equal(t, len(rec.records), report.Cycles)
	assert.Equal(t, 3, report.Ticks)
}

func TestReplay_DetectsTamperedDelta(t *testing.T) {
	rec, snap := runRecorded(t)
	r, err := reconcile.New()
	require.NoError(t, err)

	rec.records[0].Ticks[0].Delta.O[0]++

	report, err := Replay(context.Background(), rec.records, snap, r)
	require.NoError(t, err)
	require.Len(t, report.Divergences, 1)
	d := report.Divergences[0]
	assert.Equal(t, rec.records[0].Ticks[0].Domain, d.Domain)
	assert.Equal(t, "receipt digest differs", d.Reason)
}

func TestReplay_DetectsChangedHooks(t *testing.T) {
	rec, _ := runRecorded(t)
	r, err := reconcile.New()
	require.NoError(t, err)

	// Same predicates, but the email hook is gone.
	snap := hooks.MustSnapshot(2,
		testutil.Exists(1, predName),
		testutil.Exists(2, predAge),
	)

	report, err := Replay(context.Background(), rec.records, snap, r)
	require.NoError(t, err)
	require.Len(t, report.Divergences, 1)
	assert.Equal(t, string(reconcile.ErrCodeNoHookRegistered), report.Divergences[0].Reason)
}

func TestReplay_DetectsTamperedRecordDigest(t *testing.T) {
	rec, snap := runRecorded(t)
	r, err := reconcile.New()
	require.NoError(t, err)

	rec.records[0].Digest[0] ^= 0xFF

	report, err := Replay(context.Background(), rec.records, snap, r)
	require.NoError(t, err)
	require.Len(t, report.Divergences, 1)
	assert.Equal(t, -1, report.Divergences[0].Domain)
}
