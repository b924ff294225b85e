package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/contractworker/internal/config"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/queue"
	"github.com/roach88/contractworker/internal/queue/pgjobs"
	"github.com/roach88/contractworker/internal/scheduler"
	"github.com/roach88/contractworker/internal/store"
	"github.com/roach88/contractworker/internal/worker"
)

// app is a bootstrapped worker with its queue and scheduler.
type app struct {
	store     *store.Store
	jobs      queue.JobStore
	pg        *pgjobs.Store
	producer  *queue.Producer
	consumer  *queue.Consumer
	worker    *worker.Worker
	scheduler *scheduler.Scheduler
	admin     string
}

// openApp opens the store, and the PostgreSQL job table when configured,
// and bootstraps the worker.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	a := &app{store: st, jobs: st}

	if cfg.Queue.PostgresDSN != "" {
		pg, err := pgjobs.Open(ctx, cfg.Queue.PostgresDSN, cfg.Queue.Retries, cfg.Queue.RetryDelay)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open job table", err)
		}
		a.pg = pg
		a.jobs = pg
	}

	a.consumer = queue.NewConsumer(a.jobs, queue.Options{
		WorkerID:     workerID(),
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
		Retries:      cfg.Queue.Retries,
		RetryDelay:   cfg.Queue.RetryDelay,
		LockTimeout:  cfg.Queue.LockTimeout,
	})
	eng := engine.New(st, st.Schemas(), engine.WithMaxSteps(cfg.Cascade.MaxSteps))
	a.producer = queue.NewProducer(a.jobs, st,
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithNotify(a.consumer.Notify),
	)
	a.worker = worker.New(st, eng, a.producer)

	if err := a.worker.Bootstrap(ctx); err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to bootstrap", err)
	}
	a.admin, err = a.worker.Admin(ctx)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to resolve admin", err)
	}
	a.scheduler = scheduler.New(a.worker, nil)
	return a, nil
}

// Close releases the job table and the store.
func (a *app) Close() error {
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			slog.Error("error closing job table", "error", err)
		}
	}
	return a.store.Close()
}

func withApp(ctx context.Context, opts *RootOptions, fn func(context.Context, *app) error) error {
	a, err := openApp(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	return fn(ctx, a)
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
