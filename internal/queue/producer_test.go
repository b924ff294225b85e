package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/store"
)

func TestProducer_EnqueueImmediate(t *testing.T) {
	p, s := createTestProducer(t, "req-1")
	ctx := context.Background()

	c, err := p.Enqueue(ctx, "user-1", testRequest(), nil)
	require.NoError(t, err)

	assert.Equal(t, "req-1", c.ID)
	assert.Equal(t, "action-request-req-1", c.Slug)
	assert.Equal(t, contract.TypeActionRequest, c.Type)

	stored, err := s.GetByID(ctx, "req-1")
	require.NoError(t, err)
	var req contract.ActionRequest
	require.NoError(t, contract.Decode(stored.Data, &req))
	assert.Equal(t, "user-1", req.Actor)
	assert.Equal(t, contract.FormatTime(testNow), req.Timestamp)
	assert.Equal(t, testNow.UnixMilli(), req.Epoch)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Empty(t, jobs[0].Key)
	assert.Equal(t, testNow, jobs[0].RunAt)
	assert.Equal(t, DefaultMaxAttempts, jobs[0].MaxAttempts)

	var payload contract.Contract
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, "req-1", payload.ID)
}

func TestProducer_EnqueueSameKeyReplaces(t *testing.T) {
	p, s := createTestProducer(t, "req-1", "req-2")
	ctx := context.Background()

	first := testNow.Add(time.Hour)
	second := testNow.Add(2 * time.Hour)

	_, err := p.Enqueue(ctx, "user-1", testRequest(), &Schedule{JobKey: "scheduled-1", RunAt: first})
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, "user-1", testRequest(), &Schedule{JobKey: "scheduled-1", RunAt: second})
	require.NoError(t, err)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "one pending job per key")
	assert.Equal(t, "scheduled-1", jobs[0].Key)
	assert.Equal(t, second, jobs[0].RunAt, "last enqueue wins")

	d, err := decodeDelivery(jobs[0])
	require.NoError(t, err)
	assert.Equal(t, "req-2", d.Request.ID)
}

func TestProducer_EnqueueRejects(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		req   func() contract.ActionRequest
		sched *Schedule
		want  failure.Name
	}{
		{"no actor", "", testRequest, nil, failure.QueueInvalidSession},
		{"no action", "u", func() contract.ActionRequest { r := testRequest(); r.Action = ""; return r }, nil, failure.QueueInvalidRequest},
		{"bad action", "u", func() contract.ActionRequest { r := testRequest(); r.Action = "@@"; return r }, nil, failure.QueueInvalidRequest},
		{"no card", "u", func() contract.ActionRequest { r := testRequest(); r.Card = ""; return r }, nil, failure.QueueInvalidRequest},
		{"no type", "u", func() contract.ActionRequest { r := testRequest(); r.Type = ""; return r }, nil, failure.QueueInvalidRequest},
		{"no run time", "u", testRequest, &Schedule{JobKey: "k"}, failure.QueueInvalidAction},
		{"no key", "u", testRequest, &Schedule{RunAt: testNow}, failure.QueueInvalidAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, s := createTestProducer(t, "req-1")
			_, err := p.Enqueue(context.Background(), tt.actor, tt.req(), tt.sched)
			require.Error(t, err)
			assert.True(t, failure.Is(err, tt.want), "got %v", err)

			jobs, err := s.ListJobs(context.Background())
			require.NoError(t, err)
			assert.Empty(t, jobs)
		})
	}
}

func TestProducer_NotifiesAfterEnqueue(t *testing.T) {
	s := createTestStore(t)
	calls := 0
	p := NewProducer(s, s, WithNotify(func() { calls++ }))

	_, err := p.Enqueue(context.Background(), "user-1", testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestProducer_DeleteJob(t *testing.T) {
	p, s := createTestProducer(t, "req-1")
	ctx := context.Background()

	require.NoError(t, p.DeleteJob(ctx, "missing"), "absent key is a no-op")

	_, err := p.Enqueue(ctx, "user-1", testRequest(), &Schedule{JobKey: "k", RunAt: testNow.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, p.DeleteJob(ctx, "k"))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestProducer_PostResultsOnce(t *testing.T) {
	p, s := createTestProducer(t, "req-1", "exec-1", "exec-2")
	ctx := context.Background()

	req, err := p.Enqueue(ctx, "user-1", testRequest(), nil)
	require.NoError(t, err)

	ev, err := p.PostResults(ctx, "user-1", req, contract.Results{Data: map[string]any{"id": "card-1"}})
	require.NoError(t, err)
	assert.Equal(t, contract.ExecuteSlug("req-1"), ev.Slug)
	assert.Equal(t, contract.TypeExecute, ev.Type)

	linked, err := s.LinkedIDs(ctx, "exec-1", contract.VerbExecutes)
	require.NoError(t, err)
	assert.Equal(t, []string{"req-1"}, linked)
	back, err := s.LinkedIDs(ctx, "req-1", contract.VerbIsExecutedBy)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1"}, back)

	_, err = p.PostResults(ctx, "user-1", req, contract.Results{})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.WorkerAlreadyExecuted))
}

func TestProducer_WaitResultsExisting(t *testing.T) {
	p, _ := createTestProducer(t, "req-1", "exec-1")
	ctx := context.Background()

	req, err := p.Enqueue(ctx, "user-1", testRequest(), nil)
	require.NoError(t, err)
	_, err = p.PostResults(ctx, "user-1", req, contract.Results{Data: "done"})
	require.NoError(t, err)

	got, err := p.WaitResults(ctx, req)
	require.NoError(t, err)
	assert.False(t, got.Error)
	assert.Equal(t, "done", got.Data)
	assert.Equal(t, contract.FormatTime(testNow), got.Timestamp)
	assert.NoError(t, got.Err())
}

func TestProducer_WaitResultsStreams(t *testing.T) {
	p, _ := createTestProducer(t, "req-1", "req-2", "exec-1", "exec-2")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := p.Enqueue(ctx, "user-1", testRequest(), nil)
	require.NoError(t, err)
	other, err := p.Enqueue(ctx, "user-1", testRequest(), nil)
	require.NoError(t, err)

	type outcome struct {
		res Result
		err error
	}
	results := make(chan outcome, 1)
	go func() {
		res, err := p.WaitResults(ctx, req)
		results <- outcome{res, err}
	}()

	// results for another request must not wake the waiter
	_, err = p.PostResults(ctx, "user-1", other, contract.Results{Data: "other"})
	require.NoError(t, err)
	_, err = p.PostResults(ctx, "user-1", req, contract.Results{
		Error: true,
		Data:  failure.Payload(failure.New(failure.WorkerNoElement, "no such card")),
	})
	require.NoError(t, err)

	got := <-results
	require.NoError(t, got.err)
	assert.True(t, got.res.Error)
	assert.True(t, failure.Is(got.res.Err(), failure.WorkerNoElement))
}

// missingEvents reports every execute as absent.
type missingEvents struct {
	*store.Store
}

func (missingEvents) GetBySlug(context.Context, string) (contract.Contract, error) {
	return contract.Contract{}, store.ErrNotFound
}

func TestProducer_WaitResultsStreamClosed(t *testing.T) {
	s := createTestStore(t)
	closed := createTestStore(t)
	require.NoError(t, closed.Close())

	p := NewProducer(s, missingEvents{closed})
	_, err := p.WaitResults(context.Background(), contract.Contract{ID: "req-1"})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.QueueNoRequest))
}

func TestProducer_WaitResultsContextCancelled(t *testing.T) {
	p, _ := createTestProducer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.WaitResults(ctx, contract.Contract{ID: "req-1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProducer_RecordHasNoJob(t *testing.T) {
	p, s := createTestProducer(t, "req-1")
	ctx := context.Background()

	c, err := p.Record(ctx, "user-1", testRequest())
	require.NoError(t, err)

	_, err = s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
