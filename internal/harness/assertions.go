package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] cycle %d %s", i+1, ev.Cycle, ev.Type)
		switch {
		case ev.Fiber != nil:
			fmt.Fprintf(&buf, " domain=%d %v%s%s", ev.Fiber.Domain, ev.Fiber.Actions, ev.Fiber.Cause, ev.Fiber.Error)
		case ev.Commit != nil:
			fmt.Fprintf(&buf, " epoch=%d ticks=%d", ev.Commit.Epoch, ev.Commit.Ticks)
		case ev.Refused != nil:
			fmt.Fprintf(&buf, " domain=%d %s", ev.Refused.Domain, ev.Refused.Error)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertActionOutcome:
			err = assertActionOutcome(result.Trace, a)
		case AssertTickCost:
			err = assertTickCost(result.Trace, a)
		case AssertReplayOK:
			err = assertReplayOK(result)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// domainOf returns the domain an event concerns, or -1 for commits.
func domainOf(ev *TraceEvent) int {
	switch {
	case ev.Fiber != nil:
		return ev.Fiber.Domain
	case ev.Refused != nil:
		return ev.Refused.Domain
	}
	return -1
}

func matches(ev *TraceEvent, a *Assertion) bool {
	if a.Domain != nil && domainOf(ev) != *a.Domain {
		return false
	}
	if a.Cycle != nil && ev.Cycle != *a.Cycle {
		return false
	}
	return true
}

// assertTraceCount checks that the event type appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for i := range trace {
		ev := &trace[i]
		if ev.Type != a.Event || !matches(ev, &a) {
			continue
		}
		if a.Cause != "" && (ev.Fiber == nil || ev.Fiber.Cause != a.Cause) {
			continue
		}
		count++
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events", *a.Count, a.Event),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertActionOutcome checks that some reconciled event emitted Outcome at
// Lane.
func assertActionOutcome(trace []TraceEvent, a Assertion) error {
	want := fmt.Sprintf("%d:%s", *a.Lane, a.Outcome)
	for i := range trace {
		ev := &trace[i]
		if ev.Type == EventReconciled && matches(ev, &a) && slices.Contains(ev.Fiber.Actions, want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertActionOutcome,
		Expected: fmt.Sprintf("action %s", want),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTickCost checks that the first matching reconciled event charged
// exactly Cost.
func assertTickCost(trace []TraceEvent, a Assertion) error {
	for i := range trace {
		ev := &trace[i]
		if ev.Type != EventReconciled || !matches(ev, &a) {
			continue
		}
		if int(ev.Fiber.Cost) != *a.Cost {
			return &AssertionError{
				Type:     AssertTickCost,
				Expected: fmt.Sprintf("cost %d", *a.Cost),
				Actual:   fmt.Sprintf("cost %d at cycle %d", ev.Fiber.Cost, ev.Cycle),
				Trace:    trace,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertTickCost,
		Expected: fmt.Sprintf("cost %d", *a.Cost),
		Actual:   "no matching reconciled event",
		Trace:    trace,
	}
}

// assertReplayOK checks that the committed log replayed cleanly and its
// hash chain verified.
func assertReplayOK(result *Result) error {
	if result.Replay == nil {
		return fmt.Errorf("replay did not run")
	}
	if !result.Replay.OK() {
		d := result.Replay.Divergences[0]
		return fmt.Errorf("replay diverged at epoch %d domain %d tick %d: %s (%d divergences)",
			d.Epoch, d.Domain, d.Tick, d.Reason, len(result.Replay.Divergences))
	}
	if result.ChainError != "" {
		return fmt.Errorf("provenance chain: %s", result.ChainError)
	}
	return nil
}
