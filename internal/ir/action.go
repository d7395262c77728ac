package ir

// Outcome classifies the action a satisfied row produced.
// Outcome codes mirror the kernel kind that satisfied the row.
type Outcome uint8

const (
	OutcomeNone     Outcome = iota // reserved, never emitted
	OutcomeAsserted                // exists
	OutcomeCounted                 // threshold_count
	OutcomeMatched                 // exact_match
	OutcomeTyped                   // datatype
	OutcomeUnique                  // unique
	OutcomeCompared                // compare
)

var outcomeNames = [...]string{
	OutcomeNone:     "none",
	OutcomeAsserted: "asserted",
	OutcomeCounted:  "counted",
	OutcomeMatched:  "matched",
	OutcomeTyped:    "typed",
	OutcomeUnique:   "unique",
	OutcomeCompared: "compared",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Action is the output produced for one satisfied delta row.
// Lane is the row's position in the 8-lane frame; Source is the row itself,
// which is what makes the action provenance-checkable.
type Action struct {
	Lane    uint8   `json:"lane"`
	Outcome Outcome `json:"outcome"`
	Source  Triple  `json:"source"`
}

// ActionBatch is the ordered output of one reconciliation, at most MaxLanes
// actions, stored inline so producing it never allocates.
type ActionBatch struct {
	Items [MaxLanes]Action `json:"items"`
	Len   uint8            `json:"len"`
}

// Append adds an action. The caller guarantees Len < MaxLanes.
func (a *ActionBatch) Append(act Action) {
	a.Items[a.Len] = act
	a.Len++
}

// Actions returns the actions as a slice, in order.
func (a *ActionBatch) Actions() []Action {
	return a.Items[:a.Len:a.Len]
}

// LaneMask returns the OR of 1<<Lane over all actions.
func (a *ActionBatch) LaneMask() uint8 {
	var m uint8
	for i := uint8(0); i < a.Len; i++ {
		m |= 1 << (a.Items[i].Lane & 7)
	}
	return m
}

// Digest returns the lane-bound digest of the action sequence.
func (a *ActionBatch) Digest() Digest {
	var d Digest
	for i := uint8(0); i < a.Len; i++ {
		d = d.Xor(LaneDigest(a.Items[i].Lane, a.Items[i].Source))
	}
	return d
}

// AsDelta projects the actions back onto observations: each action's source
// triple keeps its lane. Resubmitting the projection under a no-op hook
// reproduces the same digest, which is how idempotence is checked.
func (a *ActionBatch) AsDelta() Batch {
	if a.Len == 0 {
		return Batch{}
	}
	base := a.Items[0].Lane
	last := a.Items[a.Len-1].Lane
	b := Batch{Base: base, Len: last - base + 1}
	for i := uint8(0); i < a.Len; i++ {
		act := a.Items[i]
		j := act.Lane - base
		b.S[j], b.P[j], b.O[j] = act.Source.S, act.Source.P, act.Source.O
	}
	return b
}
