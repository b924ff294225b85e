package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NoScheduler bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker and scheduler",
		Long: `Run the job consumer and the interval-trigger scheduler until interrupted.

The database is created and bootstrapped if it does not exist. In-flight
jobs finish before the process exits.

Example:
  contractworker run --database ./worker.db
  contractworker run --config ./worker.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "do not tick interval triggers")

	return cmd
}

func runWorker(opts *RunOptions, cmd *cobra.Command) error {
	// Use the command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return withApp(ctx, opts.RootOptions, func(ctx context.Context, a *app) error {
		cfg := opts.Config
		errs := make(chan error, 2)
		running := 1

		go func() {
			errs <- a.consumer.Run(ctx, a.worker.Handle)
		}()
		if !opts.NoScheduler {
			running++
			go func() {
				errs <- a.scheduler.Run(ctx, cfg.Scheduler.TickInterval)
			}()
		}

		slog.Info("worker started",
			"database", cfg.Database,
			"concurrency", cfg.Queue.Concurrency,
			"scheduler", !opts.NoScheduler,
		)
		fmt.Fprintln(cmd.OutOrStdout(), "Worker started. Press Ctrl-C to stop.")

		var runErr error
		for i := 0; i < running; i++ {
			err := <-errs
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				if runErr == nil {
					runErr = err
				}
				// one loop failing stops the other
				cancel()
			}
		}
		if runErr != nil {
			return WrapExitError(ExitFailure, "worker error", runErr)
		}

		slog.Info("worker stopped gracefully")
		return nil
	})
}
