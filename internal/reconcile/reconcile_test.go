package reconcile

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/kernel"
)

const (
	predName  = 100
	predAge   = 200
	predEmail = 300
	predOwner = 400
	predGroup = 500
)

func testSnapshot(t *testing.T) *hooks.Snapshot {
	t.Helper()
	snap, err := hooks.NewSnapshot(1,
		hooks.Hook{ID: 1, Name: "has-name", Predicate: predName, Kind: kernel.KindExists},
		hooks.Hook{ID: 2, Name: "adult", Predicate: predAge, Kind: kernel.KindCompare, Params: kernel.Params{Threshold: 18, Op: kernel.OpGE}},
		hooks.Hook{ID: 3, Name: "email-typed", Predicate: predEmail, Kind: kernel.KindDatatype, Params: kernel.Params{Datatype: 7}},
		hooks.Hook{ID: 4, Name: "single-owner", Predicate: predOwner, Kind: kernel.KindUnique},
		hooks.Hook{ID: 5, Name: "busy-group", Predicate: predGroup, Kind: kernel.KindThresholdCount, Params: kernel.Params{Threshold: 2}},
	)
	require.NoError(t, err)
	return snap
}

func TestReconcile_SingleExists(t *testing.T) {
	delta := ir.MustBatch(ir.Triple{S: 1, P: predName, O: 5})

	res, err := Reconcile(&delta, testSnapshot(t), Stamp{Cycle: 1})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, uint8(1), res.Actions.Len)
	assert.Equal(t, ir.Action{Lane: 0, Outcome: ir.OutcomeAsserted, Source: ir.Triple{S: 1, P: predName, O: 5}}, res.Actions.Items[0])

	assert.Equal(t, uint8(1), res.Receipt.TickCost)
	assert.Equal(t, uint8(0b1), res.Receipt.LaneMask)
	assert.Equal(t, uint64(1), res.Receipt.HookID)
	assert.Equal(t, uint8(1), res.Receipt.Tick)
	assert.Equal(t, res.Actions.Digest(), res.Receipt.Digest)
	assert.Nil(t, res.Parked)
}

func TestReconcile_OrderIsPreserved(t *testing.T) {
	snap := testSnapshot(t)
	a := ir.Triple{S: 1, P: predName, O: 5}
	b := ir.Triple{S: 2, P: predAge, O: 30}

	ab := ir.MustBatch(a, b)
	ba := ir.MustBatch(b, a)

	resAB, err := Reconcile(&ab, snap, Stamp{Cycle: 2})
	require.NoError(t, err)
	resBA, err := Reconcile(&ba, snap, Stamp{Cycle: 2})
	require.NoError(t, err)

	assert.Equal(t, uint8(0b11), resAB.Receipt.LaneMask)
	assert.Equal(t, uint8(3), resAB.Receipt.TickCost, "exists (1) plus compare (2)")
	assert.Equal(t, []ir.Triple{a, b}, sources(resAB.Actions))
	assert.Equal(t, []ir.Triple{b, a}, sources(resBA.Actions))
	assert.NotEqual(t, resAB.Receipt.Digest, resBA.Receipt.Digest, "digest is order-sensitive")
}

func TestReconcile_InvalidBatchBounds(t *testing.T) {
	delta := ir.Batch{Len: 9}

	_, err := Reconcile(&delta, testSnapshot(t), Stamp{})
	require.Error(t, err)
	assert.True(t, IsBoundsError(err))
	assert.ErrorIs(t, err, ir.ErrBatchBounds)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Fatal())
}

func TestReconcile_NoHookRegistered(t *testing.T) {
	delta := ir.MustBatch(
		ir.Triple{S: 1, P: predName, O: 5},
		ir.Triple{S: 1, P: 999, O: 5},
	)

	_, err := Reconcile(&delta, testSnapshot(t), Stamp{Cycle: 3})
	require.Error(t, err)
	assert.True(t, IsNoHookError(err))

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 1, re.Row)
	assert.Equal(t, uint64(999), re.Predicate)
	assert.Contains(t, err.Error(), "predicate=999")
}

func TestReconcile_BudgetExceededParks(t *testing.T) {
	snap := hooks.MustSnapshot(1,
		hooks.Hook{ID: 1, Name: "a", Predicate: 1, Kind: kernel.KindUnique},
		hooks.Hook{ID: 2, Name: "b", Predicate: 2, Kind: kernel.KindUnique},
		hooks.Hook{ID: 3, Name: "c", Predicate: 3, Kind: kernel.KindThresholdCount},
	)
	delta := ir.MustBatch(
		ir.Triple{S: 1, P: 1, O: 1},
		ir.Triple{S: 1, P: 2, O: 1},
		ir.Triple{S: 1, P: 3, O: 1},
	)

	res, err := Reconcile(&delta, snap, Stamp{Cycle: 4, Shard: 1})
	require.NoError(t, err, "parking is not an error")

	assert.Equal(t, StatusParked, res.Status)
	require.NotNil(t, res.Parked)
	assert.Equal(t, delta, res.Parked.Delta)
	assert.Equal(t, uint8(6), res.Parked.Spent)
	assert.Equal(t, uint8(9), res.Parked.Needed)
	assert.Equal(t, uint8(8), res.Parked.Budget)
	assert.Equal(t, uint64(3), res.Parked.HookID)
	assert.Equal(t, uint8(1), res.Parked.Shard)

	assert.True(t, res.Receipt.IsEmpty(), "a parked delta never gets a receipt")
	assert.Equal(t, uint8(0), res.Actions.Len)
}

func TestReconcile_BudgetExactlyMetCompletes(t *testing.T) {
	r, err := New(WithBudget(3))
	require.NoError(t, err)

	snap := hooks.MustSnapshot(1, hooks.Hook{ID: 1, Name: "u", Predicate: 1, Kind: kernel.KindUnique})
	delta := ir.MustBatch(ir.Triple{S: 1, P: 1, O: 1}, ir.Triple{S: 2, P: 1, O: 1})

	res, err := r.Reconcile(&delta, snap, Stamp{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, uint8(3), res.Receipt.TickCost, "a group is charged once, not per row")
	assert.Equal(t, uint8(0b11), res.Receipt.LaneMask)
}

func TestNew_RejectsBudget(t *testing.T) {
	_, err := New(WithBudget(0))
	assert.Error(t, err)
	_, err = New(WithBudget(9))
	assert.Error(t, err)

	r, err := New()
	require.NoError(t, err)
	assert.Equal(t, DefaultBudget, r.Budget())
}

func TestReconcile_HolesAreSkipped(t *testing.T) {
	delta := ir.MustBatch(
		ir.Triple{S: 1, P: predName, O: 5},
		ir.Triple{},
		ir.Triple{S: 2, P: predName, O: 6},
	)

	res, err := Reconcile(&delta, testSnapshot(t), Stamp{})
	require.NoError(t, err)
	assert.Equal(t, uint8(0b101), res.Receipt.LaneMask)
}

func TestReconcile_EmptyBatch(t *testing.T) {
	var delta ir.Batch

	res, err := Reconcile(&delta, testSnapshot(t), Stamp{Cycle: 6, Shard: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, uint8(0), res.Actions.Len)
	assert.True(t, res.Receipt.Digest.IsZero())
	assert.Equal(t, uint8(1<<6), res.Receipt.TickMask)
	assert.Equal(t, ir.NoHook, res.Receipt.HookID)
}

func TestReconcile_ProvenanceMismatch(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	r.project = func(delta *ir.Batch, rows uint8, outcomes *[ir.MaxLanes]ir.Outcome) ir.ActionBatch {
		out := projectActions(delta, rows, outcomes)
		out.Items[0].Source.O++ // tamper
		return out
	}

	delta := ir.MustBatch(ir.Triple{S: 1, P: predName, O: 5})
	res, err := r.Reconcile(&delta, testSnapshot(t), Stamp{Cycle: 7})
	require.Error(t, err)
	assert.True(t, IsProvenanceMismatch(err))
	assert.True(t, res.Receipt.IsEmpty())

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Fatal())
	assert.Equal(t, ir.DigestRows(&delta, 0b1), re.Expected)
	assert.NotEqual(t, re.Expected, re.Actual)
}

func TestReconcile_Deterministic(t *testing.T) {
	snap := testSnapshot(t)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		delta := randomBatch(rng)
		stamp := Stamp{Cycle: rng.Uint64N(1 << 20), Shard: uint8(rng.IntN(8))}

		first, err1 := Reconcile(&delta, snap, stamp)
		second, err2 := Reconcile(&delta, snap, stamp)
		require.Equal(t, err1, err2)
		require.Equal(t, first, second, "non-deterministic result for %v", delta.Triples())
	}
}

func TestReconcile_Bounds(t *testing.T) {
	snap := testSnapshot(t)
	rng := rand.New(rand.NewPCG(3, 4))

	for i := 0; i < 500; i++ {
		delta := randomBatch(rng)
		res, err := Reconcile(&delta, snap, Stamp{Cycle: uint64(i)})
		require.NoError(t, err)

		assert.LessOrEqual(t, res.Actions.Len, uint8(ir.MaxLanes))
		if res.Status == StatusCompleted {
			assert.LessOrEqual(t, res.Receipt.TickCost, DefaultBudget)
			assert.Equal(t, res.Actions.LaneMask(), res.Receipt.LaneMask)
		} else {
			assert.Greater(t, res.Parked.Needed, DefaultBudget)
		}
	}
}

func TestReconcile_ShardDistributivity(t *testing.T) {
	snap := testSnapshot(t)
	rng := rand.New(rand.NewPCG(5, 6))
	rowLocal := []uint64{predName, predAge, predEmail}

	for i := 0; i < 100; i++ {
		delta := randomBatchOf(rng, rowLocal)
		stamp := Stamp{Cycle: uint64(i)}

		whole, err := Reconcile(&delta, snap, stamp)
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, whole.Status)

		for k := 0; k <= int(delta.Len); k++ {
			b1, b2, err := delta.Split(k)
			require.NoError(t, err)

			r1, err := Reconcile(&b1, snap, stamp)
			require.NoError(t, err)
			r2, err := Reconcile(&b2, snap, stamp)
			require.NoError(t, err)

			merged, err := ir.Merge(r1.Receipt, r2.Receipt)
			require.NoError(t, err)

			if diff := cmp.Diff(whole.Receipt, merged); diff != "" {
				t.Fatalf("split at %d: receipt(B) != receipt(B1) ⊕ receipt(B2) (-whole +merged):\n%s", k, diff)
			}
			assert.Equal(t, whole.Actions.Actions(), append(r1.Actions.Actions(), r2.Actions.Actions()...))
		}
	}
}

func TestReconcile_Idempotence(t *testing.T) {
	snap := testSnapshot(t)
	rng := rand.New(rand.NewPCG(7, 8))
	rowLocal := []uint64{predName, predAge, predEmail}

	for i := 0; i < 100; i++ {
		delta := randomBatchOf(rng, rowLocal)
		first, err := Reconcile(&delta, snap, Stamp{Cycle: 9})
		require.NoError(t, err)

		again := first.Actions.AsDelta()
		second, err := Reconcile(&again, snap, Stamp{Cycle: 9})
		require.NoError(t, err)

		assert.Equal(t, first.Actions.Digest(), second.Actions.Digest())
		assert.Equal(t, first.Actions.Actions(), second.Actions.Actions())
	}
}

func TestReconcile_NoOpHooksAbsorbActions(t *testing.T) {
	delta := ir.MustBatch(
		ir.Triple{S: 1, P: predName, O: 5},
		ir.Triple{S: 2, P: predAge, O: 30},
		ir.Triple{S: 3, P: predName, O: 6},
	)
	first, err := Reconcile(&delta, testSnapshot(t), Stamp{Cycle: 4})
	require.NoError(t, err)
	require.Equal(t, uint8(3), first.Actions.Len)

	noops := hooks.MustSnapshot(2,
		hooks.Hook{ID: 11, Name: "name-ignored", Predicate: predName, Kind: kernel.KindNoOp},
		hooks.Hook{ID: 12, Name: "age-ignored", Predicate: predAge, Kind: kernel.KindNoOp},
	)
	again := first.Actions.AsDelta()
	second, err := Reconcile(&again, noops, Stamp{Cycle: 4})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, uint8(0), second.Actions.Len)
	assert.True(t, second.Receipt.Digest.IsZero())
	assert.Equal(t, uint8(0), second.Receipt.TickCost)
	assert.Equal(t, uint8(0), second.Receipt.LaneMask)
	assert.Equal(t, []ir.Charge{
		{Tick: 4, HookID: 11, Cost: 0},
		{Tick: 4, HookID: 12, Cost: 0},
	}, second.Receipt.Charges)
}

func TestReconcile_SnapshotIsolation(t *testing.T) {
	reg := hooks.NewRegistry(testSnapshot(t))
	held := reg.Load()

	reg.Swap(hooks.MustSnapshot(2))

	delta := ir.MustBatch(ir.Triple{S: 1, P: predName, O: 5})
	res, err := Reconcile(&delta, held, Stamp{})
	require.NoError(t, err, "a loaded snapshot keeps serving after a swap")
	assert.Equal(t, uint8(1), res.Actions.Len)

	_, err = Reconcile(&delta, reg.Load(), Stamp{})
	assert.True(t, IsNoHookError(err))
}

func sources(a ir.ActionBatch) []ir.Triple {
	var out []ir.Triple
	for _, act := range a.Actions() {
		out = append(out, act.Source)
	}
	return out
}

func randomBatch(rng *rand.Rand) ir.Batch {
	return randomBatchOf(rng, []uint64{predName, predAge, predEmail, predOwner, predGroup})
}

func randomBatchOf(rng *rand.Rand, preds []uint64) ir.Batch {
	n := rng.IntN(ir.MaxLanes + 1)
	triples := make([]ir.Triple, n)
	for i := range triples {
		triples[i] = ir.Triple{
			S: rng.Uint64N(4),
			P: preds[rng.IntN(len(preds))],
			O: uint64(rng.IntN(3))<<56 | rng.Uint64N(40),
		}
	}
	return ir.MustBatch(triples...)
}
