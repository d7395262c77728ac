package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/knhk/internal/hooks"
)

// HookSummary describes one compiled hook.
type HookSummary struct {
	Name      string `json:"name"`
	ID        uint64 `json:"id"`
	Predicate uint64 `json:"predicate"`
	Kind      string `json:"kind"`
	Cost      uint8  `json:"cost"`
}

// HooksResult is the result of validating a hook file.
type HooksResult struct {
	File        string        `json:"file"`
	Version     uint64        `json:"version"`
	Fingerprint string        `json:"fingerprint"`
	Hooks       []HookSummary `json:"hooks"`
}

// NewHooksCommand creates the hooks command group.
func NewHooksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Work with hook files",
	}
	cmd.AddCommand(newHooksValidateCommand(rootOpts))
	return cmd
}

func newHooksValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.cue>",
		Short: "Compile a hook file and list its hooks",
		Long: `Compile a CUE hook file against the hook schema and report every hook it
declares, with its kernel cost.

Exit codes:
  0 - The hook file is valid
  2 - The hook file does not compile

Examples:
  knhk hooks validate ./hooks.cue
  knhk hooks validate ./hooks.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHooksValidate(opts, args[0], cmd)
		},
	}
}

func runHooksValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	if err := requireFile(path); err != nil {
		return err
	}
	snap, err := loadHooks(path)
	if err != nil {
		if opts.Format == "json" {
			_ = newFormatter(opts, cmd).Error("E_HOOKS_INVALID", err.Error(), nil)
		}
		return err
	}

	result := summarizeHooks(path, snap)
	if opts.Format == "json" {
		return newFormatter(opts, cmd).Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s: %d hooks (version %d, fingerprint %s)\n", path, len(result.Hooks), result.Version, result.Fingerprint)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tPREDICATE\tKIND\tCOST")
	for _, h := range result.Hooks {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\n", h.Name, h.ID, h.Predicate, h.Kind, h.Cost)
	}
	return tw.Flush()
}

func summarizeHooks(path string, snap *hooks.Snapshot) HooksResult {
	result := HooksResult{
		File:        path,
		Version:     snap.Version(),
		Fingerprint: fmt.Sprintf("%016x", snap.Fingerprint()),
		Hooks:       make([]HookSummary, 0, snap.Len()),
	}
	for _, h := range snap.Hooks() {
		result.Hooks = append(result.Hooks, HookSummary{
			Name:      h.Name,
			ID:        h.ID,
			Predicate: h.Predicate,
			Kind:      h.Kind.String(),
			Cost:      h.Kind.Cost(),
		})
	}
	return result
}

// requireFile returns a command error if path does not exist.
func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("file not found: %s", path), err)
	}
	return nil
}
