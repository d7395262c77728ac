package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/knhk/internal/beat"
	"github.com/roach88/knhk/internal/engine"
	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/hookspec"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
	"github.com/roach88/knhk/internal/ring"
	"github.com/roach88/knhk/internal/store"
	"github.com/roach88/knhk/internal/warm"
)

const (
	// DefaultRunID is stamped on cycle records when a scenario names none.
	DefaultRunID = "test-run"

	// DefaultMaxSteps bounds each settle phase.
	DefaultMaxSteps = 64

	// maxResubmitRounds bounds the warm resubmission loop.
	maxResubmitRounds = 8
)

// Error codes used in traces for refusals that are not reconcile errors.
const (
	CodeSlotBusy         = "SLOT_BUSY"
	CodeUnboundPredicate = "UNBOUND_PREDICATE"
	CodeCycleOutOfWindow = "CYCLE_OUT_OF_WINDOW"
	CodeCycleMismatch    = "CYCLE_MISMATCH"
)

// Harness runs one scenario against a fresh engine and store.
type Harness struct {
	scenario *Scenario
	snap     *hooks.Snapshot
	store    *store.Store
	engine   *engine.Engine
	overflow *warm.Queue
	budget   uint8
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. The run
// ID is fixed, so traces are reproducible.
//
// Execution flow:
// 1. Compile the hook definitions
// 2. Feed every delta into the engine
// 3. Step the engine until all rings are empty
// 4. Optionally resubmit parked deltas and settle again
// 5. Replay the committed log and verify its hash chain
// 6. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and logger. A nil logger discards.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	snap, err := compileHooks(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to compile hooks: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	budget := scenario.Budget
	if budget == 0 {
		budget = reconcile.DefaultBudget
	}
	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}

	q := warm.NewQueue(warm.WithLogger(logger))
	eng, err := engine.New(hooks.NewRegistry(snap),
		engine.WithBudget(budget),
		engine.WithDomains(max(scenario.Domains, 1)),
		engine.WithShards(max(scenario.Shards, 1)),
		engine.WithProvenanceLog(st),
		engine.WithOverflowSink(q),
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(runID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		snap:     snap,
		store:    st,
		engine:   eng,
		overflow: q,
		budget:   budget,
		logger:   logger,
	}

	result := NewResult()
	h.feed(result)

	if err := h.settle(ctx, result); err != nil {
		return nil, err
	}
	if scenario.Resubmit {
		if err := h.resubmit(ctx, result); err != nil {
			return nil, err
		}
	}
	result.Overflow = q.Len()

	if err := h.audit(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func compileHooks(s *Scenario) (*hooks.Snapshot, error) {
	if s.HooksFile != "" {
		return hookspec.CompileFile(s.HooksFile)
	}
	return hookspec.Compile(s.Name+".cue", []byte(s.Hooks))
}

// feed hands every feed step to the engine, recording refusals.
func (h *Harness) feed(result *Result) {
	for i, step := range h.scenario.Feed {
		var cycle uint64
		if step.Cycle != nil {
			cycle = *step.Cycle
		}

		delta, err := ir.NewBatch(step.Rows...)
		if err == nil {
			if step.Cycle != nil {
				err = h.engine.Enqueue(step.Domain, beat.Tick(cycle), delta, cycle)
			} else {
				cycle, err = h.engine.Submit(step.Domain, delta)
			}
		}
		if err != nil {
			h.logger.Debug("feed step refused", "step", i, "domain", step.Domain, "error", err)
			result.AddRefused(step.Domain, cycle, errorCode(err))
		}
	}
}

func (h *Harness) settle(ctx context.Context, result *Result) error {
	steps := h.scenario.MaxSteps
	if steps == 0 {
		steps = DefaultMaxSteps
	}
	reports, err := h.engine.Settle(ctx, steps)
	for _, r := range reports {
		result.AddReport(r)
	}
	if engine.IsCommitError(err) {
		return fmt.Errorf("scenario %s: %w", h.scenario.Name, err)
	}
	if err != nil {
		result.AddError(err.Error())
	}
	return nil
}

// resubmit drains the overflow queue back into the engine, splitting
// budget overflows, and settles after each round.
func (h *Harness) resubmit(ctx context.Context, result *Result) error {
	handler := h.overflow.Resubmit(h.engine)
	for round := 0; round < maxResubmitRounds && h.overflow.Len() > 0; round++ {
		h.overflow.Flush(ctx, handler)
		if err := h.settle(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// audit replays the committed log and verifies its hash chain.
func (h *Harness) audit(ctx context.Context, result *Result) error {
	rec, err := reconcile.New(reconcile.WithBudget(h.budget))
	if err != nil {
		return err
	}
	report, err := engine.ReplayFrom(ctx, h.store, h.snap, rec)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	result.Replay = report

	n, err := h.store.VerifyChain(ctx)
	result.Chain = n
	if err != nil {
		result.ChainError = err.Error()
	}
	return nil
}

// errorCode reduces an error to a stable code for traces.
func errorCode(err error) string {
	var re *reconcile.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &re):
		return string(re.Code)
	case errors.Is(err, ir.ErrBatchBounds):
		return string(reconcile.ErrCodeInvalidBatchBounds)
	case ring.IsSlotBusy(err):
		return CodeSlotBusy
	case errors.Is(err, ir.ErrUnboundPredicate):
		return CodeUnboundPredicate
	case errors.Is(err, engine.ErrCycleOutOfWindow):
		return CodeCycleOutOfWindow
	case errors.Is(err, engine.ErrCycleMismatch):
		return CodeCycleMismatch
	}
	return err.Error()
}
