package ir

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_Stride(t *testing.T) {
	assert.Equal(t, uintptr(256), unsafe.Sizeof(Batch{}), "batch must keep a 256-byte stride")
}

func TestNewBatch_RejectsOverflow(t *testing.T) {
	triples := make([]Triple, MaxLanes+1)
	_, err := NewBatch(triples...)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchBounds)
}

func TestNewBatch_PreservesOrder(t *testing.T) {
	b := MustBatch(Triple{1, 2, 3}, Triple{4, 5, 6})

	assert.Equal(t, uint8(2), b.Len)
	assert.Equal(t, Triple{1, 2, 3}, b.Row(0))
	assert.Equal(t, Triple{4, 5, 6}, b.Row(1))
	assert.Equal(t, []Triple{{1, 2, 3}, {4, 5, 6}}, b.Triples())
	assert.Equal(t, uint8(0b11), b.RowMask())
}

func TestBatch_RowMaskFull(t *testing.T) {
	b := MustBatch(make([]Triple, MaxLanes)...)
	assert.Equal(t, uint8(0xFF), b.RowMask())

	var empty Batch
	assert.Equal(t, uint8(0), empty.RowMask())
}

func TestBatch_ValidateWindow(t *testing.T) {
	b := Batch{Len: 3, Base: 6}
	err := b.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchBounds)

	b = Batch{Len: 2, Base: 6}
	assert.NoError(t, b.Validate())

	b = Batch{Len: 9}
	assert.ErrorIs(t, b.Validate(), ErrBatchBounds)
}

func TestBatch_SplitKeepsLanes(t *testing.T) {
	b := MustBatch(Triple{1, 10, 100}, Triple{2, 20, 200}, Triple{3, 30, 300})

	head, tail, err := b.Split(1)
	require.NoError(t, err)

	assert.Equal(t, uint8(1), head.Len)
	assert.Equal(t, uint8(0), head.Base)
	assert.Equal(t, Triple{1, 10, 100}, head.Row(0))

	assert.Equal(t, uint8(2), tail.Len)
	assert.Equal(t, uint8(1), tail.Base)
	assert.Equal(t, Triple{2, 20, 200}, tail.Row(0))
	assert.Equal(t, Triple{3, 30, 300}, tail.Row(1))

	// Lane-bound digests see the same rows at the same lanes.
	whole := DigestRows(&b, 0xFF)
	parts := DigestRows(&head, 0xFF).Xor(DigestRows(&tail, 0xFF))
	assert.Equal(t, whole, parts)
}

func TestBatch_SplitEdges(t *testing.T) {
	b := MustBatch(Triple{1, 2, 3})

	head, tail, err := b.Split(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), head.Len)
	assert.Equal(t, uint8(1), tail.Len)

	_, _, err = b.Split(2)
	assert.ErrorIs(t, err, ErrBatchBounds)
}

func TestDatatypeOf(t *testing.T) {
	assert.Equal(t, uint8(0x07), DatatypeOf(0x07<<56|42))
	assert.Equal(t, uint8(0), DatatypeOf(42))
}

func TestActionBatch_AsDeltaLeavesHoles(t *testing.T) {
	var a ActionBatch
	a.Append(Action{Lane: 1, Outcome: OutcomeAsserted, Source: Triple{1, 2, 3}})
	a.Append(Action{Lane: 3, Outcome: OutcomeAsserted, Source: Triple{4, 2, 6}})

	d := a.AsDelta()
	assert.Equal(t, uint8(1), d.Base)
	assert.Equal(t, uint8(3), d.Len)
	assert.Equal(t, Triple{1, 2, 3}, d.Row(0))
	assert.Equal(t, Triple{}, d.Row(1), "lane 2 had no action")
	assert.Equal(t, Triple{4, 2, 6}, d.Row(2))

	assert.Equal(t, uint8(0b1010), a.LaneMask())
	assert.Equal(t, a.Digest(), DigestRows(&d, a.LaneMask()))
}

func TestActionBatch_EmptyAsDelta(t *testing.T) {
	var a ActionBatch
	d := a.AsDelta()
	assert.Equal(t, uint8(0), d.Len)
	assert.True(t, a.Digest().IsZero())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "asserted", OutcomeAsserted.String())
	assert.Equal(t, "compared", OutcomeCompared.String())
	assert.Equal(t, "unknown", Outcome(200).String())
}

func TestBatch_CheckBound(t *testing.T) {
	b := MustBatch(Triple{S: 1, P: 10, O: 1}, Triple{S: 2, P: 20, O: 2})
	assert.NoError(t, b.CheckBound())

	b = MustBatch(Triple{S: 1, P: 10, O: 1}, Triple{S: 2, P: 0, O: 2})
	err := b.CheckBound()
	assert.ErrorIs(t, err, ErrUnboundPredicate)
	assert.Contains(t, err.Error(), "row 1")

	// Holes left by AsDelta are unbound rows.
	var a ActionBatch
	a.Append(Action{Lane: 0, Outcome: OutcomeAsserted, Source: Triple{S: 1, P: 10, O: 1}})
	a.Append(Action{Lane: 2, Outcome: OutcomeAsserted, Source: Triple{S: 3, P: 10, O: 3}})
	delta := a.AsDelta()
	assert.ErrorIs(t, delta.CheckBound(), ErrUnboundPredicate)
}
