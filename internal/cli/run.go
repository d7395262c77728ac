package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/knhk/internal/engine"
	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/reconcile"
	"github.com/roach88/knhk/internal/store"
	"github.com/roach88/knhk/internal/warm"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	EngineOptions
	Feed     string
	Database string
	Domains  int
	Shards   int
	MaxSteps int
	Resubmit bool
	Follow   bool
	Interval time.Duration
	Rate     float64

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunSummary is printed when a run settles.
type RunSummary struct {
	RunID    string `json:"run_id"`
	Accepted int    `json:"accepted"`
	Refused  int    `json:"refused"`
	Cycles   int    `json:"cycles"`
	Cycle    uint64 `json:"cycle"`
	Overflow int    `json:"overflow"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Feed deltas through the engine and commit their epochs",
		Long: `Start the engine with a hook file, feed it the deltas of a YAML feed file
and step the beat until every delta is reconciled and its epoch committed.
Committed cycles are printed as they commit and appended to the provenance
log.

Without --db the provenance log is kept in memory. With --follow the engine
keeps running on its tick interval after the feed settles, draining parked
deltas back into the engine, until interrupted.

Example:
  knhk run --hooks ./hooks.cue --feed ./feed.yaml
  knhk run --hooks ./hooks.cue --feed ./feed.yaml --db ./prov.db --budget 4 --resubmit
  knhk run --hooks ./hooks.cue --feed - --domains 4 --shards 2 --follow`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Hooks, "hooks", "", "path to CUE hook file (required)")
	_ = cmd.MarkFlagRequired("hooks")
	cmd.Flags().StringVar(&opts.Feed, "feed", "", "path to YAML feed file, - for stdin (required)")
	_ = cmd.MarkFlagRequired("feed")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite provenance log (default in-memory)")
	cmd.Flags().Uint8Var(&opts.Budget, "budget", reconcile.DefaultBudget, "tick budget per reconciliation (1..8)")
	cmd.Flags().IntVar(&opts.Domains, "domains", engine.DefaultDomains, "number of reconciliation domains")
	cmd.Flags().IntVar(&opts.Shards, "shards", engine.DefaultShards, "number of shard fibers (1..8)")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 256, "give up if the feed has not settled after this many ticks")
	cmd.Flags().BoolVar(&opts.Resubmit, "resubmit", false, "split and resubmit parked deltas after the feed settles")
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "keep running after the feed settles")
	cmd.Flags().DurationVar(&opts.Interval, "interval", engine.DefaultTickInterval, "tick interval with --follow")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 1000, "parked deltas resubmitted per second with --follow")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	snap, err := loadHooks(opts.Hooks)
	if err != nil {
		return err
	}
	logger.Info("hooks compiled", "hooks", snap.Len(), "version", snap.Version())

	feed, err := loadFeed(opts.Feed, cmd.InOrStdin())
	if err != nil {
		return err
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = ":memory:"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}

	q := warm.NewQueue(
		warm.WithLogger(logger),
		warm.WithRate(rate.Limit(opts.Rate), max(1, int(opts.Rate))),
	)
	emitter := &cycleWriter{w: cmd.OutOrStdout(), format: opts.Format}

	eng, err := engine.New(hooks.NewRegistry(snap),
		engine.WithBudget(opts.Budget),
		engine.WithDomains(opts.Domains),
		engine.WithShards(opts.Shards),
		engine.WithProvenanceLog(st),
		engine.WithActionEmitter(emitter),
		engine.WithOverflowSink(q),
		engine.WithLogger(logger),
		engine.WithTickInterval(opts.Interval),
		engine.WithRunIDGenerator(runIDs),
		engine.WithMismatchHandler(func(ev engine.MismatchEvent) {
			logger.Error("provenance alarm",
				"domain", ev.Domain,
				"cycle", ev.Cycle,
				"expected", ev.Expected.Short(),
				"actual", ev.Actual.Short())
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := RunSummary{RunID: eng.RunID()}
	summary.Accepted = feedEngine(eng, feed, func(i int, err error) {
		summary.Refused++
		logger.Warn("feed step refused", "step", i, "error", err)
	})
	logger.Info("feed submitted", "run_id", eng.RunID(), "accepted", summary.Accepted, "refused", summary.Refused)

	if err := settle(ctx, eng, q, opts, logger); err != nil {
		return err
	}

	if opts.Follow {
		if err := follow(ctx, eng, q); err != nil {
			return err
		}
	}

	summary.Cycles = emitter.n
	summary.Cycle = eng.Cycle()
	summary.Overflow = q.Len()
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(summary)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d accepted, %d refused, %d cycles committed, %d parked\n",
		summary.RunID, summary.Accepted, summary.Refused, summary.Cycles, summary.Overflow)
	return nil
}

// settle steps until the feed drains, optionally resubmitting parked deltas.
func settle(ctx context.Context, eng *engine.Engine, q *warm.Queue, opts *RunOptions, logger *slog.Logger) error {
	step := func() error {
		_, err := eng.Settle(ctx, opts.MaxSteps)
		switch {
		case err == nil:
			return nil
		case engine.IsCommitError(err):
			return WrapExitError(ExitFailure, "commit failed", err)
		case errors.Is(err, context.Canceled):
			return nil
		}
		return WrapExitError(ExitFailure, "engine step failed", err)
	}

	if err := step(); err != nil {
		return err
	}
	if !opts.Resubmit {
		return nil
	}
	handler := q.Resubmit(eng)
	for round := 0; round < opts.MaxSteps && q.Len() > 0; round++ {
		n := q.Flush(ctx, handler)
		logger.Debug("resubmitted parked deltas", "round", round, "deltas", n)
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// follow runs the engine on its ticker and drains the overflow queue
// until ctx is done.
func follow(ctx context.Context, eng *engine.Engine, q *warm.Queue) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return q.Drain(gctx, q.Resubmit(eng))
	})
	err := g.Wait()
	if engine.IsCommitError(err) {
		return WrapExitError(ExitFailure, "commit failed", err)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	return nil
}
