package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knhk/internal/ir"
)

func TestBranchlessHelpers(t *testing.T) {
	values := []uint64{0, 1, 2, 7, 1 << 63, math.MaxUint64 - 1, math.MaxUint64}

	for _, a := range values {
		assert.Equal(t, a != 0, nonZero(a) == 1, "nonZero(%d)", a)
		for _, b := range values {
			assert.Equal(t, a == b, equal(a, b) == 1, "equal(%d, %d)", a, b)
			assert.Equal(t, a < b, less(a, b) == 1, "less(%d, %d)", a, b)
		}
	}
}

func TestCompare_AllOps(t *testing.T) {
	tests := []struct {
		op   Op
		a, b uint64
		want uint8
	}{
		{OpGE, 3, 3, 1}, {OpGE, 2, 3, 0}, {OpGE, 4, 3, 1},
		{OpLE, 3, 3, 1}, {OpLE, 2, 3, 1}, {OpLE, 4, 3, 0},
		{OpEQ, 3, 3, 1}, {OpEQ, 2, 3, 0},
		{OpNE, 3, 3, 0}, {OpNE, 2, 3, 1},
		{OpGT, 4, 3, 1}, {OpGT, 3, 3, 0},
		{OpLT, 2, 3, 1}, {OpLT, 3, 3, 0},
		{OpGT, math.MaxUint64, 0, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, compare(tt.op, tt.a, tt.b), "%s(%d, %d)", tt.op, tt.a, tt.b)
	}
}

// maskOf drops the cost Dispatch returns alongside the mask.
func maskOf(mask, _ uint8) uint8 {
	return mask
}

func TestDispatch_ReturnsKindCost(t *testing.T) {
	b := ir.MustBatch(ir.Triple{S: 1, P: 9, O: 1})
	for k := Kind(0); k < NumKinds; k++ {
		_, cost := Dispatch(k, &b, 0b1, &Params{Threshold: 1})
		assert.Equal(t, k.Cost(), cost, "cost of %s", k)
	}
}

func TestDispatch_Exists(t *testing.T) {
	b := ir.MustBatch(
		ir.Triple{S: 1, P: 9, O: 3},
		ir.Triple{S: 0, P: 9, O: 3}, // unbound subject
		ir.Triple{S: 2, P: 9, O: 3},
	)

	assert.Equal(t, uint8(0b101), maskOf(Dispatch(KindExists, &b, 0b111, &Params{})))
	assert.Equal(t, uint8(0b100), maskOf(Dispatch(KindExists, &b, 0b111, &Params{Subject: 2})))
	assert.Equal(t, uint8(0b001), maskOf(Dispatch(KindExists, &b, 0b011, &Params{})), "rows outside the group are never satisfied")
}

func TestDispatch_ThresholdCount(t *testing.T) {
	b := ir.MustBatch(
		ir.Triple{S: 1, P: 9, O: 10},
		ir.Triple{S: 1, P: 9, O: 11},
		ir.Triple{S: 2, P: 9, O: 12},
		ir.Triple{S: 1, P: 9, O: 13},
	)

	assert.Equal(t, uint8(0b1011), maskOf(Dispatch(KindThresholdCount, &b, 0b1111, &Params{Threshold: 2})))
	assert.Equal(t, uint8(0b0100), maskOf(Dispatch(KindThresholdCount, &b, 0b1111, &Params{Threshold: 1, Op: OpLE})))
	assert.Equal(t, uint8(0b1011), maskOf(Dispatch(KindThresholdCount, &b, 0b1111, &Params{Threshold: 3, Op: OpEQ})))
	// Only group rows count: with row 3 excluded subject 1 has two rows.
	assert.Equal(t, uint8(0b0011), maskOf(Dispatch(KindThresholdCount, &b, 0b0111, &Params{Threshold: 2, Op: OpEQ})))
}

func TestDispatch_ExactMatch(t *testing.T) {
	b := ir.MustBatch(
		ir.Triple{S: 1, P: 9, O: 42},
		ir.Triple{S: 2, P: 9, O: 42},
		ir.Triple{S: 1, P: 9, O: 43},
	)

	assert.Equal(t, uint8(0b011), maskOf(Dispatch(KindExactMatch, &b, 0b111, &Params{Object: 42})))
	assert.Equal(t, uint8(0b001), maskOf(Dispatch(KindExactMatch, &b, 0b111, &Params{Subject: 1, Object: 42})))
}

func TestDispatch_Datatype(t *testing.T) {
	const tag = 0x05
	b := ir.MustBatch(
		ir.Triple{S: 1, P: 9, O: tag<<56 | 1},
		ir.Triple{S: 2, P: 9, O: 0x06<<56 | 1},
		ir.Triple{S: 3, P: 9, O: tag<<56 | 99},
	)

	assert.Equal(t, uint8(0b101), maskOf(Dispatch(KindDatatype, &b, 0b111, &Params{Datatype: tag})))
}

func TestDispatch_Unique(t *testing.T) {
	b := ir.MustBatch(
		ir.Triple{S: 1, P: 9, O: 1},
		ir.Triple{S: 2, P: 9, O: 2},
		ir.Triple{S: 1, P: 9, O: 3},
	)

	assert.Equal(t, uint8(0b010), maskOf(Dispatch(KindUnique, &b, 0b111, &Params{})))
	assert.Equal(t, uint8(0b011), maskOf(Dispatch(KindUnique, &b, 0b011, &Params{})))
}

func TestDispatch_Compare(t *testing.T) {
	b := ir.MustBatch(
		ir.Triple{S: 1, P: 9, O: 5},
		ir.Triple{S: 2, P: 9, O: 10},
		ir.Triple{S: 3, P: 9, O: 15},
	)

	assert.Equal(t, uint8(0b110), maskOf(Dispatch(KindCompare, &b, 0b111, &Params{Threshold: 10, Op: OpGE})))
	assert.Equal(t, uint8(0b100), maskOf(Dispatch(KindCompare, &b, 0b111, &Params{Threshold: 10, Op: OpGT})))
	assert.Equal(t, uint8(0b001), maskOf(Dispatch(KindCompare, &b, 0b111, &Params{Threshold: 10, Op: OpLT})))
	assert.Equal(t, uint8(0b101), maskOf(Dispatch(KindCompare, &b, 0b111, &Params{Threshold: 10, Op: OpNE})))
}

func TestDispatch_NoOp(t *testing.T) {
	b := ir.MustBatch(ir.Triple{S: 1, P: 9, O: 1})
	assert.Equal(t, uint8(0), maskOf(Dispatch(KindNoOp, &b, 0b1, &Params{})))
}

func TestDispatch_IgnoresUnoccupiedLanes(t *testing.T) {
	b := ir.MustBatch(ir.Triple{S: 1, P: 9, O: 0})
	// Lanes 1..7 hold zero triples; compare LE 0 would match them.
	assert.Equal(t, uint8(0b1), maskOf(Dispatch(KindCompare, &b, 0xFF, &Params{Threshold: 0, Op: OpLE})))
}

func TestKind_CostTable(t *testing.T) {
	want := map[Kind]uint8{
		KindExists:         1,
		KindThresholdCount: 3,
		KindExactMatch:     1,
		KindDatatype:       2,
		KindUnique:         3,
		KindCompare:        2,
		KindNoOp:           0,
	}
	for k := Kind(0); k < NumKinds; k++ {
		assert.Equal(t, want[k], k.Cost(), "cost of %s", k)
		assert.LessOrEqual(t, k.Cost(), uint8(ir.MaxLanes))
	}
}

func TestParseKind(t *testing.T) {
	for k := Kind(0); k < NumKinds; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("regex")
	assert.Error(t, err)
	assert.False(t, NumKinds.Valid())
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp("")
	require.NoError(t, err)
	assert.Equal(t, OpGE, op)

	op, err = ParseOp("lt")
	require.NoError(t, err)
	assert.Equal(t, OpLT, op)

	_, err = ParseOp("approx")
	assert.Error(t, err)
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, Params{Threshold: 2}.Validate(KindThresholdCount))
	assert.NoError(t, Params{Op: OpGT}.Validate(KindCompare))

	assert.Error(t, Params{Op: OpGT}.Validate(KindThresholdCount), "threshold_count supports ge, le, eq")
	assert.Error(t, Params{Threshold: 9}.Validate(KindThresholdCount))
	assert.Error(t, Params{Op: NumOps}.Validate(KindCompare))
	assert.Error(t, Params{}.Validate(NumKinds))
}

func BenchmarkDispatch(b *testing.B) {
	batch := ir.MustBatch(
		ir.Triple{S: 1, P: 9, O: 1}, ir.Triple{S: 2, P: 9, O: 2},
		ir.Triple{S: 3, P: 9, O: 3}, ir.Triple{S: 1, P: 9, O: 4},
		ir.Triple{S: 5, P: 9, O: 5}, ir.Triple{S: 6, P: 9, O: 6},
		ir.Triple{S: 1, P: 9, O: 7}, ir.Triple{S: 8, P: 9, O: 8},
	)
	params := Params{Threshold: 2}

	for k := Kind(0); k < NumKinds; k++ {
		b.Run(k.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = Dispatch(k, &batch, 0xFF, &params)
			}
		})
	}
}
