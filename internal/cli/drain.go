package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DrainOptions holds flags for the drain command.
type DrainOptions struct {
	*RootOptions
	Limit int
}

// DrainResult is the output of the drain command.
type DrainResult struct {
	Processed int `json:"processed"`
	Remaining int `json:"remaining"`
}

func (r DrainResult) String() string {
	return fmt.Sprintf("Processed %d job(s), %d left in queue", r.Processed, r.Remaining)
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DrainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run every due job and exit",
		Long: `Run every due job on the calling process, including jobs enqueued by
the jobs themselves, then exit. Jobs scheduled in the future stay queued.

Example:
  contractworker drain --database ./worker.db
  contractworker drain --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many jobs (0 = no limit)")

	return cmd
}

func runDrain(opts *DrainOptions, cmd *cobra.Command) error {
	return withApp(cmd.Context(), opts.RootOptions, func(ctx context.Context, a *app) error {
		n, err := a.consumer.Drain(ctx, a.worker.Handle, opts.Limit)
		if err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		jobs, err := a.jobs.ListJobs(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "list jobs", err)
		}
		return opts.formatter(cmd).Success(DrainResult{Processed: n, Remaining: len(jobs)})
	})
}
