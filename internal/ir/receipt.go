package ir

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"
)

// Merge sentinels. A merged receipt whose inputs disagree on shard or hook
// reports the Mixed value; Mixed absorbs everything it is merged with.
const (
	MixedShard uint8  = math.MaxUint8
	NoHook     uint64 = 0
	MixedHook  uint64 = math.MaxUint64
)

// ErrLaneOverlap is returned when two receipts claim the same lane of the
// same tick. Receipts of disjoint shards of one batch never overlap.
var ErrLaneOverlap = errors.New("receipts overlap on a lane")

// Charge records one kernel invocation: the hook that ran at a tick and the
// ticks it cost. Grouped rows share one charge, so splitting a batch across
// shards never double-counts a hook.
type Charge struct {
	Tick   uint8  `json:"tick"`
	HookID uint64 `json:"hook_id"`
	Cost   uint8  `json:"cost"`
}

// Receipt is the provenance record of one or more reconciliations.
//
// The per-tick fields (Lanes, Digests, Charges) are the state that merges;
// TickCost, LaneMask, Tick, Digest and TraceID are derived from them and from
// CycleID every time a receipt is built or merged.
//
// CRITICAL: Never edit a Receipt's fields in place. Build it with
// NewTickReceipt and combine with Merge so derived fields stay consistent.
type Receipt struct {
	CycleID  uint64  `json:"cycle_id"`
	ShardID  uint8   `json:"shard_id"`
	HookID   uint64  `json:"hook_id"`
	Tick     uint8   `json:"tick"`
	TickCost uint8   `json:"tick_cost"`
	LaneMask uint8   `json:"lane_mask"`
	Digest   Digest  `json:"digest"`
	TraceID  TraceID `json:"trace_id"`

	TickMask uint8            `json:"tick_mask"`
	Lanes    [MaxLanes]uint8  `json:"lanes"`
	Digests  [MaxLanes]Digest `json:"digests"`
	Charges  []Charge         `json:"charges,omitempty"`
}

// NewTickReceipt builds the receipt of a single reconciliation at cycle.
// charges may be in any order and may repeat a hook; duplicates collapse.
func NewTickReceipt(cycle uint64, shard uint8, lanes uint8, digest Digest, charges []Charge) Receipt {
	tick := uint8(cycle & (MaxLanes - 1))
	r := Receipt{
		CycleID:  cycle,
		ShardID:  shard,
		TickMask: 1 << tick,
	}
	r.Lanes[tick] = lanes
	r.Digests[tick] = digest
	r.Charges = normalizeCharges(charges)
	r.HookID = NoHook
	for _, c := range r.Charges {
		r.HookID = mergeHook(r.HookID, c.HookID)
	}
	r.seal()
	return r
}

// IsEmpty reports whether r is the merge identity (the zero Receipt).
func (r *Receipt) IsEmpty() bool {
	return r.TickMask == 0 && len(r.Charges) == 0
}

// Merge combines two receipts (⊕). Merge is associative and commutative and
// the zero Receipt is its identity. Returns ErrLaneOverlap if both receipts
// claim a lane at the same tick.
func Merge(a, b Receipt) (Receipt, error) {
	if a.IsEmpty() {
		return b, nil
	}
	if b.IsEmpty() {
		return a, nil
	}

	out := Receipt{
		CycleID:  max(a.CycleID, b.CycleID),
		ShardID:  mergeShard(a.ShardID, b.ShardID),
		HookID:   mergeHook(a.HookID, b.HookID),
		TickMask: a.TickMask | b.TickMask,
	}
	for t := 0; t < MaxLanes; t++ {
		if overlap := a.Lanes[t] & b.Lanes[t]; overlap != 0 {
			return Receipt{}, fmt.Errorf("%w: tick %d lanes %08b", ErrLaneOverlap, t, overlap)
		}
		out.Lanes[t] = a.Lanes[t] | b.Lanes[t]
		out.Digests[t] = a.Digests[t].Xor(b.Digests[t])
	}
	out.Charges = mergeCharges(a.Charges, b.Charges)
	out.seal()
	return out, nil
}

// Fold merges receipts left to right, starting from the identity.
func Fold(receipts ...Receipt) (Receipt, error) {
	var acc Receipt
	for i, r := range receipts {
		var err error
		if acc, err = Merge(acc, r); err != nil {
			return Receipt{}, fmt.Errorf("fold receipt %d: %w", i, err)
		}
	}
	return acc, nil
}

// seal recomputes the derived fields.
func (r *Receipt) seal() {
	var cost int
	for _, c := range r.Charges {
		cost += int(c.Cost)
	}
	// Charges are bounded by 8 ticks x 8 hooks x the max kernel cost, well
	// under 255.
	r.TickCost = uint8(cost)

	r.LaneMask = 0
	for _, l := range r.Lanes {
		r.LaneMask |= l
	}
	r.Tick = uint8(r.CycleID & (MaxLanes - 1))

	switch bits.OnesCount8(r.TickMask) {
	case 0:
		r.Digest = Digest{}
	case 1:
		r.Digest = r.Digests[bits.TrailingZeros8(r.TickMask)]
	default:
		var d Digest
		for t := uint8(0); t < MaxLanes; t++ {
			if r.TickMask&(1<<t) != 0 {
				d = d.Xor(tickDigest(t, r.Digests[t]))
			}
		}
		r.Digest = d
	}

	if r.TickMask != 0 {
		r.TraceID = TraceIDForEpoch(r.CycleID >> 3)
	} else {
		r.TraceID = TraceID{}
	}
}

func mergeShard(a, b uint8) uint8 {
	if a == b {
		return a
	}
	return MixedShard
}

// mergeHook is a join: NoHook is the bottom, MixedHook the top.
func mergeHook(a, b uint64) uint64 {
	switch {
	case a == NoHook:
		return b
	case b == NoHook, a == b:
		return a
	default:
		return MixedHook
	}
}

func compareCharge(x, y Charge) int {
	if x.Tick != y.Tick {
		return int(x.Tick) - int(y.Tick)
	}
	switch {
	case x.HookID < y.HookID:
		return -1
	case x.HookID > y.HookID:
		return 1
	}
	return 0
}

// normalizeCharges sorts by (tick, hook) and collapses duplicate keys.
func normalizeCharges(in []Charge) []Charge {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.SortFunc(out, compareCharge)
	return slices.CompactFunc(out, func(x, y Charge) bool {
		return compareCharge(x, y) == 0
	})
}

// mergeCharges is a sorted-set union keyed by (tick, hook). Both inputs are
// already normalized. A key present in both keeps the larger cost.
func mergeCharges(a, b []Charge) []Charge {
	if len(a)+len(b) == 0 {
		return nil
	}
	out := make([]Charge, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := compareCharge(a[i], b[j]); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			merged := a[i]
			merged.Cost = max(a[i].Cost, b[j].Cost)
			out = append(out, merged)
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
