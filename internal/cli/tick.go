package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/contractworker/internal/contract"
)

// TickOptions holds flags for the tick command.
type TickOptions struct {
	*RootOptions
	Pending bool
	At      string
}

// TickResult is the output of the tick command.
type TickResult struct {
	At    string `json:"at"`
	Fired int    `json:"fired"`
}

func (r TickResult) String() string {
	return fmt.Sprintf("Fired %d interval trigger(s) at %s", r.Fired, r.At)
}

// NewTickCommand creates the tick command.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TickOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Fire due interval triggers once",
		Long: `Run one scheduler tick: every interval trigger whose latest boundary
has not fired yet enqueues its action once. Missed boundaries collapse
into the latest one.

With --pending nothing fires; the command lists each interval trigger
with its last fired and next due boundary.

Examples:
  contractworker tick
  contractworker tick --at 2024-03-01T16:30:00Z
  contractworker tick --pending --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Pending, "pending", false, "list interval triggers without firing")
	cmd.Flags().StringVar(&opts.At, "at", "", "tick at this RFC 3339 time instead of now")

	return cmd
}

func runTick(opts *TickOptions, cmd *cobra.Command) error {
	now := time.Now().UTC()
	if opts.At != "" {
		t, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		now = t.UTC()
	}
	out := opts.formatter(cmd)

	return withApp(cmd.Context(), opts.RootOptions, func(ctx context.Context, a *app) error {
		if opts.Pending {
			statuses, err := a.scheduler.Pending(ctx, now)
			if err != nil {
				return WrapExitError(ExitFailure, "list interval triggers", err)
			}
			rows := make([]table.Row, 0, len(statuses))
			for _, s := range statuses {
				rows = append(rows, table.Row{s.TriggerSlug, s.Interval, formatBoundary(s.LastFired), formatBoundary(s.Due)})
			}
			return out.Table(statuses, table.Row{"Trigger", "Interval", "Last Fired", "Due"}, rows)
		}

		fired, err := a.scheduler.Tick(ctx, now)
		if err != nil {
			return WrapExitError(ExitFailure, "tick failed", err)
		}
		return out.Success(TickResult{At: contract.FormatTime(now), Fired: fired})
	})
}

func formatBoundary(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return contract.FormatTime(t)
}
