package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/knhk/internal/engine"
	"github.com/roach88/knhk/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	EngineOptions
	Database string
}

// ReplayResult holds the replay and chain verification result.
type ReplayResult struct {
	Replay     *engine.ReplayReport `json:"replay"`
	Chain      int                  `json:"chain"`
	ChainError *store.ChainError    `json:"chain_error,omitempty"`
	Runs       []store.RunSummary   `json:"runs"`
	OK         bool                 `json:"ok"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the provenance log and verify its hash chain",
		Long: `Recompute every stored tick from its delta with the given hooks and budget,
and compare actions, cost and receipt digest with what was committed. Then
walk the record hash chain.

Exit codes:
  0 - Every tick reproduced and the chain is intact
  1 - Replay diverged or the chain is broken
  2 - Command error (database not found, bad hook file, etc.)

Examples:
  knhk replay --db ./prov.db --hooks ./hooks.cue
  knhk replay --db ./prov.db --hooks ./hooks.cue --budget 4 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Hooks, "hooks", "", "path to CUE hook file (required)")
	_ = cmd.MarkFlagRequired("hooks")
	cmd.Flags().Uint8Var(&opts.Budget, "budget", 8, "tick budget the log was written with (1..8)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	snap, err := loadHooks(opts.Hooks)
	if err != nil {
		return err
	}
	rec, err := newReconciler(opts.Budget)
	if err != nil {
		return err
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := engine.ReplayFrom(ctx, st, snap, rec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay", err)
	}
	result := ReplayResult{Replay: report}

	result.Chain, err = st.VerifyChain(ctx)
	if err != nil {
		var ce *store.ChainError
		if !errors.As(err, &ce) {
			return WrapExitError(ExitCommandError, "failed to verify chain", err)
		}
		result.ChainError = ce
	}
	if result.Runs, err = st.Runs(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	result.OK = report.OK() && result.ChainError == nil

	f := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		if result.OK {
			return f.Success(result)
		}
		_ = f.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: replayErrorCode(&result), Message: "replay verification failed"},
		})
		return NewExitError(ExitFailure, "replay verification failed")
	}

	outputReplayText(cmd, &result, opts.Verbose)
	if !result.OK {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

func replayErrorCode(r *ReplayResult) string {
	if r.ChainError != nil {
		return "E_CHAIN_BROKEN"
	}
	return "E_REPLAY_DIVERGED"
}

func outputReplayText(cmd *cobra.Command, r *ReplayResult, verbose bool) {
	w := cmd.OutOrStdout()

	for _, run := range r.Runs {
		fmt.Fprintf(w, "run %s: %d cycles, epochs %d..%d\n", run.RunID, run.Cycles, run.FirstEpoch, run.LastEpoch)
	}
	fmt.Fprintf(w, "replayed %d cycles, %d ticks\n", r.Replay.Cycles, r.Replay.Ticks)

	for i, d := range r.Replay.Divergences {
		if !verbose && i == 10 {
			fmt.Fprintf(w, "  ... %d more (use --verbose)\n", len(r.Replay.Divergences)-i)
			break
		}
		if d.Domain < 0 {
			fmt.Fprintf(w, "  ✗ epoch %d: %s\n", d.Epoch, d.Reason)
			continue
		}
		fmt.Fprintf(w, "  ✗ epoch %d domain %d tick %d (cycle %d): %s\n", d.Epoch, d.Domain, d.Tick, d.CycleID, d.Reason)
	}

	if r.ChainError != nil {
		fmt.Fprintf(w, "✗ chain broken: %v\n", r.ChainError)
	} else {
		fmt.Fprintf(w, "chain intact: %d records\n", r.Chain)
	}
	if r.OK {
		fmt.Fprintln(w, "✓ replay verified")
	}
}

// openExisting opens a database that must already exist.
func openExisting(path string) (*store.Store, error) {
	if err := requireFile(path); err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
