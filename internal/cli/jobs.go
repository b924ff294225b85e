package cli

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/contractworker/internal/contract"
)

// JobView is the listed form of a queued job.
type JobView struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	RunAt       string `json:"run_at"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LockedBy    string `json:"locked_by,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List queued jobs",
		Long: `List the jobs in the queue ordered by run time, including jobs
scheduled in the future and jobs waiting for a retry.

Examples:
  contractworker jobs
  contractworker jobs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(rootOpts, cmd)
		},
	}
}

func runJobs(opts *RootOptions, cmd *cobra.Command) error {
	return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
		jobs, err := a.jobs.ListJobs(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "list jobs", err)
		}
		views := make([]JobView, len(jobs))
		rows := make([]table.Row, len(jobs))
		for i, j := range jobs {
			views[i] = JobView{
				ID:          j.ID,
				Key:         j.Key,
				RunAt:       contract.FormatTime(j.RunAt),
				Attempts:    j.Attempts,
				MaxAttempts: j.MaxAttempts,
				LockedBy:    j.LockedBy,
				LastError:   j.LastError,
			}
			v := views[i]
			rows[i] = table.Row{v.ID, v.Key, v.RunAt, v.Attempts, v.MaxAttempts, v.LockedBy, v.LastError}
		}
		return opts.formatter(cmd).Table(views, table.Row{"ID", "Key", "Run At", "Attempts", "Max", "Locked By", "Last Error"}, rows)
	})
}
