package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/roach88/knhk/internal/beat"
	"github.com/roach88/knhk/internal/engine"
	"github.com/roach88/knhk/internal/harness"
	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/hookspec"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
)

// EngineOptions are the flags shared by commands that reconcile.
type EngineOptions struct {
	Hooks  string
	Budget uint8
}

// loadHooks compiles the hook file named by --hooks.
func loadHooks(path string) (*hooks.Snapshot, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "--hooks is required")
	}
	snap, err := hookspec.CompileFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to compile hooks", err)
	}
	return snap, nil
}

// newReconciler builds a reconciler with the --budget flag.
func newReconciler(budget uint8) (*reconcile.Reconciler, error) {
	rec, err := reconcile.New(reconcile.WithBudget(budget))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid budget", err)
	}
	return rec, nil
}

// loadFeed reads a YAML feed file; "-" reads stdin.
func loadFeed(path string, stdin io.Reader) ([]harness.FeedStep, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open feed", err)
		}
		defer f.Close()
		r = f
	}
	feed, err := harness.LoadFeed(r)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid feed", err)
	}
	return feed, nil
}

// feeder is the engine entry point the feed is written through.
type feeder interface {
	Enqueue(domain int, tick uint8, delta ir.Batch, cycle uint64) error
	Submit(domain int, delta ir.Batch) (uint64, error)
}

// feedEngine submits every step, pinning the ones that name a cycle.
// Refused steps are reported through refuse and skipped.
func feedEngine(eng feeder, feed []harness.FeedStep, refuse func(i int, err error)) int {
	accepted := 0
	for i, step := range feed {
		delta, err := ir.NewBatch(step.Rows...)
		if err == nil {
			if step.Cycle != nil {
				err = eng.Enqueue(step.Domain, beat.Tick(*step.Cycle), delta, *step.Cycle)
			} else {
				_, err = eng.Submit(step.Domain, delta)
			}
		}
		if err != nil {
			refuse(i, err)
			continue
		}
		accepted++
	}
	return accepted
}

// CycleSummary is one committed cycle as the CLI prints it.
type CycleSummary struct {
	RunID   string `json:"run_id"`
	Epoch   uint64 `json:"epoch"`
	CycleID uint64 `json:"cycle_id"`
	Ticks   int    `json:"ticks"`
	Actions int    `json:"actions"`
	Cost    int    `json:"cost"`
	Digest  string `json:"digest"`
	TraceID string `json:"trace_id"`
}

func summarizeCycle(rec *ir.CycleRecord) CycleSummary {
	s := CycleSummary{
		RunID:   rec.RunID,
		Epoch:   rec.Epoch,
		CycleID: rec.CycleID,
		Ticks:   len(rec.Ticks),
		Digest:  rec.Digest.String(),
		TraceID: ir.TraceIDForEpoch(rec.Epoch).String(),
	}
	for i := range rec.Ticks {
		s.Actions += int(rec.Ticks[i].Actions.Len)
	}
	for i := range rec.Receipts {
		s.Cost += int(rec.Receipts[i].TickCost)
	}
	return s
}

// cycleWriter is an ActionEmitter that prints each committed cycle as it
// commits: one line of text, or one JSON object per line.
type cycleWriter struct {
	w      io.Writer
	format string
	n      int // cycles written
}

var _ engine.ActionEmitter = (*cycleWriter)(nil)

func (c *cycleWriter) Emit(_ context.Context, rec *ir.CycleRecord) error {
	c.n++
	s := summarizeCycle(rec)
	if c.format == "json" {
		return json.NewEncoder(c.w).Encode(s)
	}
	_, err := fmt.Fprintf(c.w, "epoch %d  cycle %d  ticks %d  actions %d  cost %d  digest %s\n",
		s.Epoch, s.CycleID, s.Ticks, s.Actions, s.Cost, rec.Digest.Short())
	return err
}
