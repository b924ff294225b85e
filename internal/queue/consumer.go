package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/store"
)

// Handler processes one delivery. Returning nil acknowledges the job;
// an error makes it due again after a backoff.
type Handler func(ctx context.Context, d Delivery) error

// Options tunes a Consumer.
type Options struct {
	// WorkerID is recorded on claimed jobs.
	WorkerID string
	// Concurrency bounds in-flight handlers.
	Concurrency int
	// PollInterval is the idle wait between claim attempts.
	PollInterval time.Duration
	// Retries and RetryDelay bound the startup wait for the job store.
	Retries    int
	RetryDelay time.Duration
	// LockTimeout is how long a claimed job may stay locked before another
	// worker may claim it again.
	LockTimeout time.Duration
}

// DefaultOptions returns the defaults: one handler, 1s poll, 10 startup
// retries 1s apart, locks expiring after 5 minutes.
func DefaultOptions() Options {
	return Options{
		WorkerID:     "worker",
		Concurrency:  1,
		PollInterval: time.Second,
		Retries:      10,
		RetryDelay:   time.Second,
		LockTimeout:  5 * time.Minute,
	}
}

// Consumer claims due jobs and runs them on a bounded pool.
type Consumer struct {
	jobs JobStore
	opts Options
	now  func() time.Time

	// wake is buffered with size 1 so repeated notifications coalesce.
	wake chan struct{}

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// NewConsumer creates a consumer. Zero options fall back to the defaults.
func NewConsumer(jobs JobStore, opts Options) *Consumer {
	def := DefaultOptions()
	if opts.WorkerID == "" {
		opts.WorkerID = def.WorkerID
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Retries <= 0 {
		opts.Retries = def.Retries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}
	return &Consumer{
		jobs: jobs,
		opts: opts,
		now:  time.Now,
		wake: make(chan struct{}, 1),
	}
}

// SetNow replaces the wall clock used to decide which jobs are due.
func (c *Consumer) SetNow(now func() time.Time) {
	c.now = now
}

// Notify wakes an idle Run loop. Safe from any goroutine.
func (c *Consumer) Notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run processes jobs until ctx is cancelled or Cancel is called, then
// waits for in-flight handlers to finish.
//
// The job store is pinged first; if it stays unreachable for the whole
// retry budget Run fails with QueueServiceError.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	if err := c.waitForStore(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		cancel()
		return errors.New("queue: consumer already running")
	}
	c.running = true
	c.stop = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
	}()

	slog.Info("consumer starting",
		"worker_id", c.opts.WorkerID,
		"concurrency", c.opts.Concurrency,
		"poll_interval", c.opts.PollInterval,
	)

	var wg sync.WaitGroup
	slots := make(chan struct{}, c.opts.Concurrency)
	// Handlers outlive a cancelled run context so in-flight work finishes.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-runCtx.Done():
			wg.Wait()
			slog.Info("consumer stopped", "worker_id", c.opts.WorkerID)
			return ctx.Err()
		case slots <- struct{}{}:
		}

		job, err := c.claim(runCtx)
		if err != nil || job == nil {
			<-slots
			if err != nil && runCtx.Err() == nil {
				slog.Error("claim job failed", "worker_id", c.opts.WorkerID, "error", err)
			}
			c.idle(runCtx)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			c.process(handlerCtx, *job, handle)
		}()
	}
}

func (c *Consumer) claim(ctx context.Context) (*store.Job, error) {
	now := c.now()
	return c.jobs.ClaimJob(ctx, c.opts.WorkerID, now, now.Add(-c.opts.LockTimeout))
}

func (c *Consumer) idle(ctx context.Context) {
	timer := time.NewTimer(c.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-c.wake:
	case <-timer.C:
	}
}

func (c *Consumer) waitForStore(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		if err = c.jobs.Ping(ctx); err == nil {
			return nil
		}
		slog.Warn("job store unavailable",
			"attempt", attempt,
			"retries", c.opts.Retries,
			"error", err,
		)
		if attempt == c.opts.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RetryDelay):
		}
	}
	return failure.Wrap(failure.QueueServiceError, err,
		"job store unavailable after %d attempts", c.opts.Retries)
}

// Cancel stops claiming new jobs and blocks until in-flight handlers have
// finished. It returns immediately when Run is not active.
func (c *Consumer) Cancel() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.mu.Unlock()

	stop()
	<-done
}

// Drain processes every due job on the calling goroutine, including jobs
// enqueued by the handlers themselves, and returns how many ran. A
// positive limit stops it after that many jobs.
func (c *Consumer) Drain(ctx context.Context, handle Handler, limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		job, err := c.claim(ctx)
		if err != nil {
			return n, err
		}
		if job == nil {
			return n, nil
		}
		c.process(ctx, *job, handle)
		n++
	}
	return n, nil
}

func (c *Consumer) process(ctx context.Context, job store.Job, handle Handler) {
	d, err := decodeDelivery(job)
	if err != nil {
		// an undecodable payload can never succeed
		slog.Error("dropping malformed job", "job_id", job.ID, "error", err)
		if err := c.jobs.CompleteJob(ctx, job.ID); err != nil {
			slog.Error("complete job failed", "job_id", job.ID, "error", err)
		}
		return
	}

	start := c.now()
	err = handle(ctx, d)
	if err == nil {
		if err := c.jobs.CompleteJob(ctx, job.ID); err != nil {
			slog.Error("complete job failed", "job_id", job.ID, "request_id", d.Request.ID, "error", err)
			return
		}
		slog.Info("job completed",
			"job_id", job.ID,
			"job_key", job.Key,
			"request_id", d.Request.ID,
			"duration", c.now().Sub(start),
		)
		return
	}

	retryAt := c.now().Add(Backoff(job.Attempts))
	if ferr := c.jobs.FailJob(ctx, job.ID, err.Error(), retryAt); ferr != nil {
		slog.Error("fail job failed", "job_id", job.ID, "error", ferr)
		return
	}
	if job.Attempts >= job.MaxAttempts {
		slog.Error("job exhausted attempts",
			"job_id", job.ID,
			"request_id", d.Request.ID,
			"attempts", job.Attempts,
			"error", err,
		)
		return
	}
	slog.Warn("job failed, will retry",
		"job_id", job.ID,
		"request_id", d.Request.ID,
		"attempts", job.Attempts,
		"retry_at", retryAt,
		"error", err,
	)
}
