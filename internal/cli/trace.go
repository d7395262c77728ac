package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Epoch    int64 // -1 for every epoch
}

// TraceTick is one reconciled tick of a committed cycle.
type TraceTick struct {
	Domain  int      `json:"domain"`
	Tick    uint8    `json:"tick"`
	CycleID uint64   `json:"cycle_id"`
	Shard   uint8    `json:"shard"`
	Rows    uint8    `json:"rows"`
	Actions []string `json:"actions"`
	Cost    uint8    `json:"cost"`
	Digest  string   `json:"digest"`
}

// TraceCycle is one committed cycle with its ticks.
type TraceCycle struct {
	CycleSummary
	Records []TraceTick `json:"records"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print committed cycles from the provenance log",
		Long: `Print committed cycles and the ticks they fold, in commit order.

Every tick shows the domain it belongs to, the shard that ran it, the
actions it emitted ("lane:outcome"), its cost and receipt digest. The cycle
trace ID is the one exported on the commit span.

Examples:
  knhk trace --db ./prov.db
  knhk trace --db ./prov.db --run 0190f3c2-... --epoch 3
  knhk trace --db ./prov.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "only cycles of this run")
	cmd.Flags().Int64Var(&opts.Epoch, "epoch", -1, "only this epoch (requires --run)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Epoch >= 0 && opts.RunID == "" {
		return NewExitError(ExitCommandError, "--epoch requires --run")
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := readTrace(ctx, st, opts)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return WrapExitError(ExitFailure, fmt.Sprintf("no cycle for run %s epoch %d", opts.RunID, opts.Epoch), err)
		}
		return WrapExitError(ExitCommandError, "failed to read cycles", err)
	}

	cycles := make([]TraceCycle, 0, len(records))
	for _, rec := range records {
		cycles = append(cycles, traceCycle(rec))
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: cycles}
		if len(cycles) == 1 {
			resp.TraceID = cycles[0].TraceID
		}
		return newFormatter(opts.RootOptions, cmd).encode(resp)
	}

	w := cmd.OutOrStdout()
	if len(cycles) == 0 {
		fmt.Fprintln(w, "No cycles found in database.")
		return nil
	}
	for _, c := range cycles {
		fmt.Fprintf(w, "run %s epoch %d  cycle %d  digest %s  trace %s\n", c.RunID, c.Epoch, c.CycleID, c.Digest[:8], c.TraceID)
		for _, t := range c.Records {
			fmt.Fprintf(w, "  d%d t%d cycle %-4d shard %d  rows %d  cost %d  %s  %v\n",
				t.Domain, t.Tick, t.CycleID, t.Shard, t.Rows, t.Cost, t.Digest[:8], t.Actions)
		}
	}
	return nil
}

func readTrace(ctx context.Context, st *store.Store, opts *TraceOptions) ([]*ir.CycleRecord, error) {
	switch {
	case opts.Epoch >= 0:
		rec, err := st.ReadCycle(ctx, opts.RunID, uint64(opts.Epoch))
		if err != nil {
			return nil, err
		}
		return []*ir.CycleRecord{rec}, nil
	case opts.RunID != "":
		return st.ReadRun(ctx, opts.RunID)
	}
	return st.ReadCycles(ctx)
}

func traceCycle(rec *ir.CycleRecord) TraceCycle {
	c := TraceCycle{CycleSummary: summarizeCycle(rec), Records: make([]TraceTick, 0, len(rec.Ticks))}
	for i := range rec.Ticks {
		tr := &rec.Ticks[i]
		actions := make([]string, 0, tr.Actions.Len)
		for _, a := range tr.Actions.Actions() {
			actions = append(actions, fmt.Sprintf("%d:%s", a.Lane, a.Outcome))
		}
		c.Records = append(c.Records, TraceTick{
			Domain:  tr.Domain,
			Tick:    tr.Tick,
			CycleID: tr.CycleID,
			Shard:   tr.Receipt.ShardID,
			Rows:    tr.Delta.Len,
			Actions: actions,
			Cost:    tr.Receipt.TickCost,
			Digest:  tr.Receipt.Digest.String(),
		})
	}
	return c
}
