package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/store"
)

func createTestConsumer(jobs JobStore) *Consumer {
	c := NewConsumer(jobs, Options{
		WorkerID:     "test-worker",
		PollInterval: 10 * time.Millisecond,
		Retries:      3,
		RetryDelay:   time.Millisecond,
	})
	c.SetNow(func() time.Time { return testNow })
	return c
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer(nil, Options{})
	assert.Equal(t, DefaultOptions(), c.opts)
}

func TestConsumer_DrainCompletes(t *testing.T) {
	p, s := createTestProducer(t, "req-1", "req-2")
	ctx := context.Background()

	_, err := p.Enqueue(ctx, "user-1", testRequest(), nil)
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, "user-1", testRequest(), nil)
	require.NoError(t, err)

	var seen []string
	n, err := createTestConsumer(s).Drain(ctx, func(_ context.Context, d Delivery) error {
		req, err := d.ActionRequest()
		require.NoError(t, err)
		assert.Equal(t, "user-1", req.Actor)
		seen = append(seen, d.Request.ID)
		return nil
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"req-1", "req-2"}, seen, "FIFO by run time")

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestConsumer_DrainLimit(t *testing.T) {
	p, s := createTestProducer(t, "req-1", "req-2")
	ctx := context.Background()
	for n := 0; n < 2; n++ {
		_, err := p.Enqueue(ctx, "user-1", testRequest(), nil)
		require.NoError(t, err)
	}

	n, err := createTestConsumer(s).Drain(ctx, func(context.Context, Delivery) error { return nil }, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestConsumer_DrainSkipsFutureJobs(t *testing.T) {
	p, s := createTestProducer(t, "req-1")
	ctx := context.Background()

	_, err := p.Enqueue(ctx, "user-1", testRequest(), &Schedule{JobKey: "later", RunAt: testNow.Add(time.Minute)})
	require.NoError(t, err)

	n, err := createTestConsumer(s).Drain(ctx, func(context.Context, Delivery) error {
		t.Fatal("job is not due")
		return nil
	}, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	job, err := s.GetJob(ctx, "later")
	require.NoError(t, err)
	assert.False(t, job.Locked())
	assert.Zero(t, job.Attempts)
}

func TestConsumer_FailureBacksOff(t *testing.T) {
	p, s := createTestProducer(t, "req-1")
	ctx := context.Background()

	_, err := p.Enqueue(ctx, "user-1", testRequest(), &Schedule{JobKey: "k", RunAt: testNow})
	require.NoError(t, err)

	n, err := createTestConsumer(s).Drain(ctx, func(context.Context, Delivery) error {
		return errors.New("boom")
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed job is not due again within the same drain")

	job, err := s.GetJob(ctx, "k")
	require.NoError(t, err)
	assert.False(t, job.Locked())
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "boom", job.LastError)
	assert.Equal(t, testNow.Add(Backoff(1)).UnixMilli(), job.RunAt.UnixMilli())
}

func TestConsumer_DropsMalformedPayload(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertJob(ctx, store.JobSpec{Payload: []byte("{not json"), RunAt: testNow, MaxAttempts: 3}, testNow)
	require.NoError(t, err)

	calls := 0
	n, err := createTestConsumer(s).Drain(ctx, func(context.Context, Delivery) error {
		calls++
		return nil
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, calls)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestConsumer_RunAndCancel(t *testing.T) {
	p, s := createTestProducer(t, "req-1")
	ctx := context.Background()
	c := createTestConsumer(s)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	errs := make(chan error, 1)
	go func() {
		errs <- c.Run(ctx, func(context.Context, Delivery) error {
			close(started)
			<-release
			finished.Store(true)
			return nil
		})
	}()

	_, err := p.Enqueue(ctx, "user-1", testRequest(), nil)
	require.NoError(t, err)
	c.Notify()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	cancelled := make(chan struct{})
	go func() {
		c.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned before the in-flight handler finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-cancelled
	assert.True(t, finished.Load())
	require.NoError(t, <-errs)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestConsumer_RunContextCancelled(t *testing.T) {
	s := createTestStore(t)
	c := createTestConsumer(s)
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		errs <- c.Run(ctx, func(context.Context, Delivery) error { return nil })
	}()
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestConsumer_CancelWhenIdle(t *testing.T) {
	c := createTestConsumer(createTestStore(t))
	c.Cancel()
}

// unreachable fails every ping.
type unreachable struct {
	JobStore
	pings atomic.Int32
}

func (u *unreachable) Ping(context.Context) error {
	u.pings.Add(1)
	return errors.New("connection refused")
}

func TestConsumer_RunStoreUnavailable(t *testing.T) {
	jobs := &unreachable{}
	c := createTestConsumer(jobs)

	err := c.Run(context.Background(), func(context.Context, Delivery) error { return nil })
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.QueueServiceError))
	assert.Equal(t, int32(3), jobs.pings.Load())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.InDelta(t, 2.718, Backoff(1).Seconds(), 0.001)
	assert.InDelta(t, 20.085, Backoff(3).Seconds(), 0.001)
	assert.Equal(t, 24*time.Hour, Backoff(20))
	assert.Equal(t, 24*time.Hour, Backoff(1000))
}
