package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	EngineOptions
	Triples []string
	Cycle   uint64
	Shard   uint8
}

// ReconcileOutput is the result of a one-shot reconciliation.
type ReconcileOutput struct {
	Status  string            `json:"status"`
	Actions []ir.Action       `json:"actions"`
	Receipt *ir.Receipt       `json:"receipt,omitempty"`
	Parked  *reconcile.Parked `json:"parked,omitempty"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one delta and print its actions and receipt",
		Long: `Apply the hooks of a hook file to a single delta, outside the beat.

Each --triple is one row "s,p,o" of the delta, in lane order; at most eight
rows. Useful for checking what a hook file does with a given observation.

Exit codes:
  0 - Reconciled or parked
  1 - Rejected (no hook for a predicate, provenance mismatch)
  2 - Command error (bad hook file, malformed triple, too many rows)

Examples:
  knhk reconcile --hooks ./hooks.cue --triple 1,100,5 --triple 2,200,30
  knhk reconcile --hooks ./hooks.cue --triple 1,100,5 --budget 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Hooks, "hooks", "", "path to CUE hook file (required)")
	_ = cmd.MarkFlagRequired("hooks")
	cmd.Flags().StringArrayVarP(&opts.Triples, "triple", "t", nil, "delta row as s,p,o (repeatable)")
	cmd.Flags().Uint8Var(&opts.Budget, "budget", reconcile.DefaultBudget, "tick budget (1..8)")
	cmd.Flags().Uint64Var(&opts.Cycle, "cycle", 0, "cycle to stamp the receipt with")
	cmd.Flags().Uint8Var(&opts.Shard, "shard", 0, "shard to stamp the receipt with")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	snap, err := loadHooks(opts.Hooks)
	if err != nil {
		return err
	}
	rec, err := newReconciler(opts.Budget)
	if err != nil {
		return err
	}

	triples := make([]ir.Triple, 0, len(opts.Triples))
	for _, s := range opts.Triples {
		t, err := parseTriple(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --triple", err)
		}
		triples = append(triples, t)
	}
	delta, err := ir.NewBatch(triples...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid delta", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	res, err := rec.Reconcile(&delta, snap, reconcile.Stamp{Cycle: opts.Cycle, Shard: opts.Shard})
	if err != nil {
		var code string
		var re *reconcile.Error
		if errors.As(err, &re) {
			code = string(re.Code)
		}
		if f.Format == "json" {
			_ = f.Error(code, err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "reconcile rejected the delta", err)
	}

	out := ReconcileOutput{Status: res.Status.String(), Actions: res.Actions.Actions()}
	if res.Status == reconcile.StatusParked {
		out.Parked = res.Parked
	} else {
		out.Receipt = &res.Receipt
	}

	if f.Format == "json" {
		return f.Success(out)
	}

	w := cmd.OutOrStdout()
	if out.Parked != nil {
		fmt.Fprintf(w, "parked: needs %d ticks, budget %d (hook %d)\n", out.Parked.Needed, out.Parked.Budget, out.Parked.HookID)
		return nil
	}
	fmt.Fprintf(w, "reconciled: %d actions, cost %d, digest %s\n", len(out.Actions), out.Receipt.TickCost, out.Receipt.Digest.Short())
	for _, a := range out.Actions {
		fmt.Fprintf(w, "  lane %d  %-9s %s\n", a.Lane, a.Outcome, a.Source)
	}
	return nil
}

// parseTriple parses "s,p,o".
func parseTriple(s string) (ir.Triple, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return ir.Triple{}, fmt.Errorf("%q: want s,p,o", s)
	}
	var ids [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return ir.Triple{}, fmt.Errorf("%q: %w", s, err)
		}
		ids[i] = n
	}
	return ir.Triple{S: ids[0], P: ids[1], O: ids[2]}, nil
}
