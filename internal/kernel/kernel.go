package kernel

import (
	"math/bits"

	"github.com/roach88/knhk/internal/ir"
)

// handler evaluates one kernel over all lanes and returns a row mask
// (bit i = row i satisfied). Dispatch masks the result with the group.
type handler func(b *ir.Batch, group uint8, p *Params) uint8

var handlers = [NumKinds]handler{
	KindExists:         askSP,
	KindThresholdCount: countSP,
	KindExactMatch:     askSPO,
	KindDatatype:       validateSP,
	KindUnique:         uniqueSP,
	KindCompare:        compareO,
	KindNoOp:           noop,
}

// Dispatch runs kernel k over the rows of b selected by group and returns
// the rows it satisfied and the tick cost of the invocation. group and the
// result use row positions (bit i = row i), not frame lanes. The cost
// depends only on k.
//
// k must be valid; hooks are validated at registration.
func Dispatch(k Kind, b *ir.Batch, group uint8, p *Params) (mask uint8, cost uint8) {
	return handlers[k](b, group, p) & group & b.RowMask(), costs[k]
}

// nonZero returns 1 if x != 0, else 0.
func nonZero(x uint64) uint8 {
	return uint8((x | -x) >> 63)
}

// equal returns 1 if a == b, else 0.
func equal(a, b uint64) uint8 {
	return nonZero(a^b) ^ 1
}

// less returns 1 if a < b, else 0.
func less(a, b uint64) uint8 {
	_, borrow := bits.Sub64(a, b, 0)
	return uint8(borrow)
}

// compare evaluates every operator and selects op's result by index.
func compare(op Op, a, b uint64) uint8 {
	lt := less(a, b)
	gt := less(b, a)
	eq := equal(a, b)
	results := [8]uint8{
		OpGE: lt ^ 1,
		OpLE: gt ^ 1,
		OpEQ: eq,
		OpNE: eq ^ 1,
		OpGT: gt,
		OpLT: lt,
	}
	return results[op&7]
}

// subjectMatches returns 1 if want is unbound or equals s.
func subjectMatches(s, want uint64) uint8 {
	return (nonZero(want) ^ 1) | equal(s, want)
}

// groupCounts returns, for each row, how many rows of the group share its
// subject.
func groupCounts(b *ir.Batch, group uint8) [ir.MaxLanes]uint64 {
	var counts [ir.MaxLanes]uint64
	for i := 0; i < ir.MaxLanes; i++ {
		var n uint64
		for j := 0; j < ir.MaxLanes; j++ {
			n += uint64(equal(b.S[i], b.S[j]) & (group >> j) & 1)
		}
		counts[i] = n
	}
	return counts
}

func askSP(b *ir.Batch, _ uint8, p *Params) uint8 {
	var mask uint8
	for i := 0; i < ir.MaxLanes; i++ {
		bit := nonZero(b.S[i]) & subjectMatches(b.S[i], p.Subject)
		mask |= bit << i
	}
	return mask
}

func countSP(b *ir.Batch, group uint8, p *Params) uint8 {
	counts := groupCounts(b, group)
	var mask uint8
	for i := 0; i < ir.MaxLanes; i++ {
		mask |= compare(p.Op, counts[i], p.Threshold) << i
	}
	return mask
}

func askSPO(b *ir.Batch, _ uint8, p *Params) uint8 {
	var mask uint8
	for i := 0; i < ir.MaxLanes; i++ {
		bit := subjectMatches(b.S[i], p.Subject) & equal(b.O[i], p.Object)
		mask |= bit << i
	}
	return mask
}

func validateSP(b *ir.Batch, _ uint8, p *Params) uint8 {
	var mask uint8
	for i := 0; i < ir.MaxLanes; i++ {
		bit := equal(uint64(ir.DatatypeOf(b.O[i])), uint64(p.Datatype))
		mask |= bit << i
	}
	return mask
}

func uniqueSP(b *ir.Batch, group uint8, _ *Params) uint8 {
	counts := groupCounts(b, group)
	var mask uint8
	for i := 0; i < ir.MaxLanes; i++ {
		mask |= equal(counts[i], 1) << i
	}
	return mask
}

func compareO(b *ir.Batch, _ uint8, p *Params) uint8 {
	var mask uint8
	for i := 0; i < ir.MaxLanes; i++ {
		mask |= compare(p.Op, b.O[i], p.Threshold) << i
	}
	return mask
}

func noop(*ir.Batch, uint8, *Params) uint8 {
	return 0
}
