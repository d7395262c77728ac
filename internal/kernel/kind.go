package kernel

import (
	"fmt"

	"github.com/roach88/knhk/internal/ir"
)

// Kind identifies a kernel.
type Kind uint8

const (
	KindExists         Kind = iota // subject is bound (optionally a specific subject)
	KindThresholdCount             // rows per subject compared against a threshold
	KindExactMatch                 // object equals a fixed object
	KindDatatype                   // object carries a datatype tag
	KindUnique                     // subject appears exactly once in the group
	KindCompare                    // object compared against a threshold
	KindNoOp                       // never satisfied
	NumKinds
)

var kindNames = [NumKinds]string{
	KindExists:         "exists",
	KindThresholdCount: "threshold_count",
	KindExactMatch:     "exact_match",
	KindDatatype:       "datatype",
	KindUnique:         "unique",
	KindCompare:        "compare",
	KindNoOp:           "noop",
}

// costs is the tick cost of one kernel invocation, charged once per group.
var costs = [NumKinds]uint8{
	KindExists:         1,
	KindThresholdCount: 3,
	KindExactMatch:     1,
	KindDatatype:       2,
	KindUnique:         3,
	KindCompare:        2,
	KindNoOp:           0,
}

var outcomes = [NumKinds]ir.Outcome{
	KindExists:         ir.OutcomeAsserted,
	KindThresholdCount: ir.OutcomeCounted,
	KindExactMatch:     ir.OutcomeMatched,
	KindDatatype:       ir.OutcomeTyped,
	KindUnique:         ir.OutcomeUnique,
	KindCompare:        ir.OutcomeCompared,
	KindNoOp:           ir.OutcomeNone,
}

// String returns the kernel's configuration name.
func (k Kind) String() string {
	if k < NumKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k names a kernel.
func (k Kind) Valid() bool {
	return k < NumKinds
}

// Cost returns the tick cost of invoking k once.
func (k Kind) Cost() uint8 {
	return costs[k]
}

// Outcome returns the action outcome produced for rows k satisfies.
func (k Kind) Outcome() ir.Outcome {
	return outcomes[k]
}

// ParseKind resolves a configuration name such as "exact_match".
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown kernel kind %q", name)
}

// Op is a comparison operator for threshold_count and compare.
// The zero value is OpGE.
type Op uint8

const (
	OpGE Op = iota
	OpLE
	OpEQ
	OpNE
	OpGT
	OpLT
	NumOps
)

var opNames = [NumOps]string{
	OpGE: "ge",
	OpLE: "le",
	OpEQ: "eq",
	OpNE: "ne",
	OpGT: "gt",
	OpLT: "lt",
}

func (o Op) String() string {
	if o < NumOps {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp resolves an operator name such as "ge". The empty name is OpGE.
func ParseOp(name string) (Op, error) {
	if name == "" {
		return OpGE, nil
	}
	for o, n := range opNames {
		if n == name {
			return Op(o), nil
		}
	}
	return 0, fmt.Errorf("unknown comparison operator %q", name)
}

// Params configures a kernel. Which fields matter depends on the kind:
//
//	exists           Subject (0 = any bound subject)
//	threshold_count  Threshold, Op (ge, le or eq)
//	exact_match      Subject (0 = any), Object
//	datatype         Datatype
//	unique           -
//	compare          Threshold, Op
//	noop             -
type Params struct {
	Subject   uint64 `json:"subject,omitempty" yaml:"subject,omitempty"`
	Object    uint64 `json:"object,omitempty" yaml:"object,omitempty"`
	Threshold uint64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Op        Op     `json:"op,omitempty" yaml:"op,omitempty"`
	Datatype  uint8  `json:"datatype,omitempty" yaml:"datatype,omitempty"`
}

// Validate checks that p is usable with kind k.
// Called at hook registration so Dispatch can index without checks.
func (p Params) Validate(k Kind) error {
	if !k.Valid() {
		return fmt.Errorf("unknown kernel kind %d", uint8(k))
	}
	if p.Op >= NumOps {
		return fmt.Errorf("%s: unknown comparison operator %d", k, uint8(p.Op))
	}
	if k == KindThresholdCount && p.Op != OpGE && p.Op != OpLE && p.Op != OpEQ {
		return fmt.Errorf("%s: operator %s not supported (want ge, le or eq)", k, p.Op)
	}
	if k == KindThresholdCount && p.Threshold > ir.MaxLanes {
		return fmt.Errorf("%s: threshold %d exceeds %d rows", k, p.Threshold, ir.MaxLanes)
	}
	return nil
}
