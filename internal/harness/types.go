package harness

import (
	"fmt"

	"github.com/roach88/knhk/internal/engine"
	"github.com/roach88/knhk/internal/ir"
)

// Trace event types.
const (
	EventReconciled = "reconciled"
	EventParked     = "parked"
	EventRejected   = "rejected"
	EventFailed     = "failed"
	EventRefused    = "refused"
	EventCommit     = "commit"
)

// TraceEvent is one entry of a scenario trace. Exactly one of Fiber,
// Commit and Refused is set.
type TraceEvent struct {
	Type    string        `json:"type"`
	Cycle   uint64        `json:"cycle"`
	Fiber   *FiberTrace   `json:"fiber,omitempty"`
	Commit  *CommitTrace  `json:"commit,omitempty"`
	Refused *RefusedTrace `json:"refused,omitempty"`
}

// FiberTrace is what a fiber did for one domain at one tick.
type FiberTrace struct {
	Domain  int      `json:"domain"`
	Shard   uint8    `json:"shard"`
	Actions []string `json:"actions,omitempty"` // "lane:outcome"
	Cost    uint8    `json:"cost,omitempty"`
	Digest  string   `json:"digest,omitempty"`
	Cause   string   `json:"cause,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// CommitTrace is a committed epoch.
type CommitTrace struct {
	Epoch  uint64 `json:"epoch"`
	Ticks  int    `json:"ticks"`
	Digest string `json:"digest"`
}

// RefusedTrace is a feed step the engine would not accept.
type RefusedTrace struct {
	Domain int    `json:"domain"`
	Error  string `json:"error"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace holds commits and non-idle fiber results in beat order. A
	// commit is listed before the fiber results of its pulse.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Replay is the result of replaying the committed log.
	Replay *engine.ReplayReport `json:"replay,omitempty"`

	// Chain is the number of committed records whose hash chain verified.
	Chain int `json:"chain"`

	// ChainError is set if the chain did not verify.
	ChainError string `json:"chain_error,omitempty"`

	// Overflow is the number of deltas left in the overflow queue.
	Overflow int `json:"overflow"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddReport appends the events of one engine step.
func (r *Result) AddReport(report *engine.StepReport) {
	if report == nil {
		return
	}
	if c := report.Commit; c != nil {
		r.Trace = append(r.Trace, TraceEvent{
			Type:   EventCommit,
			Cycle:  report.Beat.Cycle,
			Commit: &CommitTrace{Epoch: c.Epoch, Ticks: len(c.Ticks), Digest: c.Digest.Short()},
		})
	}
	for i := range report.Results {
		r.Trace = append(r.Trace, fiberEvent(&report.Results[i]))
	}
}

// AddRefused records a feed step the engine refused.
func (r *Result) AddRefused(domain int, cycle uint64, code string) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:    EventRefused,
		Cycle:   cycle,
		Refused: &RefusedTrace{Domain: domain, Error: code},
	})
}

func fiberEvent(res *engine.FiberResult) TraceEvent {
	ft := &FiberTrace{Domain: res.Domain, Shard: res.Shard}
	ev := TraceEvent{Cycle: res.Cycle, Fiber: ft}

	switch res.Status {
	case engine.FiberCompleted:
		ev.Type = EventReconciled
		ft.Actions = actionStrings(&res.Output)
		ft.Cost = res.Receipt.TickCost
		ft.Digest = res.Receipt.Digest.Short()
	case engine.FiberParked:
		ev.Type = EventParked
		ft.Cause = res.Parked.Cause.String()
	case engine.FiberRejected:
		ev.Type = EventRejected
		ft.Error = errorCode(res.Err)
	case engine.FiberFailed:
		ev.Type = EventFailed
		ft.Error = errorCode(res.Err)
	}
	return ev
}

func actionStrings(a *ir.ActionBatch) []string {
	out := make([]string, 0, a.Len)
	for _, act := range a.Actions() {
		out = append(out, fmt.Sprintf("%d:%s", act.Lane, act.Outcome))
	}
	return out
}
