package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/contractworker/internal/compiler"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	DryRun bool
}

// LoadResult is the output of the load command.
type LoadResult struct {
	Files         int      `json:"files"`
	Relationships int      `json:"relationships"`
	Types         int      `json:"types"`
	Triggers      int      `json:"triggers"`
	Scheduled     int      `json:"scheduled"`
	Installed     []string `json:"installed,omitempty"`
	DryRun        bool     `json:"dry_run,omitempty"`
}

func (r LoadResult) String() string {
	verb := "Installed"
	if r.DryRun {
		verb = "Validated"
	}
	return fmt.Sprintf("%s %d relationship(s), %d type(s), %d trigger(s), %d scheduled action(s) from %d file(s)",
		verb, r.Relationships, r.Types, r.Triggers, r.Scheduled, r.Files)
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <definitions-dir>",
		Short: "Compile and install CUE definitions",
		Long: `Compile the CUE package in a directory into relationship, type, trigger
and scheduled action contracts, validate them, and install them.

Installation upserts by slug, so loading the same directory twice is a
no-op. Types with $$formula fields get synthesized formula triggers.

Exit codes:
  0 - Installed (or validated with --dry-run)
  1 - Compilation or validation errors
  2 - Command error (invalid path, etc.)

Examples:
  contractworker load ./definitions
  contractworker load ./definitions --dry-run --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate without installing")

	return cmd
}

func runLoad(opts *LoadOptions, dir string, cmd *cobra.Command) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("definitions directory not found: %s", dir))
	}
	out := opts.formatter(cmd)

	r, errs := compiler.Load(dir, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		reportLoadErrors(out, errs)
		return NewExitError(ExitFailure, fmt.Sprintf("%d compilation error(s)", len(errs)))
	}

	return withApp(cmd.Context(), opts.RootOptions, func(ctx context.Context, a *app) error {
		if verrs := compiler.Validate(r, a.worker.Actions().Has, time.Now()); len(verrs) > 0 {
			errs := make([]error, len(verrs))
			for i, v := range verrs {
				errs[i] = v
			}
			reportLoadErrors(out, errs)
			return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(verrs)))
		}

		result := LoadResult{
			Files:         r.FileCount,
			Relationships: len(r.Relationships),
			Types:         len(r.Types),
			Triggers:      len(r.Triggers),
			Scheduled:     len(r.Scheduled),
			DryRun:        opts.DryRun,
		}
		if opts.DryRun {
			return out.Success(result)
		}

		installed, err := a.worker.Install(ctx, a.admin, r.Contracts()...)
		if err != nil {
			out.Failure(err)
			return WrapExitError(ExitFailure, "install failed", err)
		}
		for _, c := range installed {
			out.VerboseLog("installed %s (%s)", c.Ref(), c.Type)
			result.Installed = append(result.Installed, c.Ref())
		}
		return out.Success(result)
	})
}

// reportLoadErrors prints each error under its compiler code.
func reportLoadErrors(out *OutputFormatter, errs []error) {
	for _, err := range errs {
		out.Failure(err)
	}
}
