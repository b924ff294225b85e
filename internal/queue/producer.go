package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/schema"
	"github.com/roach88/contractworker/internal/store"
)

// Producer enqueues action requests and records their results.
type Producer struct {
	jobs        JobStore
	events      EventStore
	ids         engine.IDGenerator
	now         func() time.Time
	maxAttempts int
	notify      func()
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithIDGenerator sets the generator for request and event ids.
func WithIDGenerator(g engine.IDGenerator) ProducerOption {
	return func(p *Producer) {
		p.ids = g
	}
}

// WithNow sets the wall clock.
func WithNow(now func() time.Time) ProducerOption {
	return func(p *Producer) {
		p.now = now
	}
}

// WithMaxAttempts sets how often a failing job is tried.
func WithMaxAttempts(n int) ProducerOption {
	return func(p *Producer) {
		p.maxAttempts = n
	}
}

// WithNotify registers a callback run after every enqueue, typically
// Consumer.Notify so an idle consumer wakes before its next poll.
func WithNotify(fn func()) ProducerOption {
	return func(p *Producer) {
		p.notify = fn
	}
}

// NewProducer creates a producer over the given job and event stores.
func NewProducer(jobs JobStore, events EventStore, opts ...ProducerOption) *Producer {
	p := &Producer{
		jobs:        jobs,
		events:      events,
		ids:         engine.UUIDv7Generator{},
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		notify:      func() {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue persists req as an action-request contract on behalf of actorID
// and enqueues a job for it. Without a schedule the job is due now.
//
// A missing actor fails with QueueInvalidSession, a malformed request with
// QueueInvalidRequest and an incomplete schedule with QueueInvalidAction.
func (p *Producer) Enqueue(ctx context.Context, actorID string, req contract.ActionRequest, sched *Schedule) (contract.Contract, error) {
	if sched != nil && (sched.JobKey == "" || sched.RunAt.IsZero()) {
		return contract.Contract{}, failure.New(failure.QueueInvalidAction,
			"enqueue %s: schedule needs a job key and a run time", req.Action)
	}
	c, err := p.Record(ctx, actorID, req)
	if err != nil {
		return contract.Contract{}, err
	}

	payload, err := encodePayload(c)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("enqueue %s: %w", req.Action, err)
	}
	now := c.CreatedAt
	spec := store.JobSpec{Payload: payload, RunAt: now, MaxAttempts: p.maxAttempts}
	if sched != nil {
		spec.Key = sched.JobKey
		spec.RunAt = sched.RunAt.UTC()
	}
	jobID, err := p.jobs.UpsertJob(ctx, spec, now)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("enqueue %s: %w", req.Action, err)
	}
	p.notify()

	slog.Info("action request enqueued",
		"request_id", c.ID,
		"action", req.Action,
		"card", req.Card,
		"originator", req.Originator,
		"job_id", jobID,
		"job_key", spec.Key,
		"run_at", spec.RunAt,
	)
	return c, nil
}

// Record persists an action-request contract without queueing a job.
// Sync triggers use it for requests executed inline.
func (p *Producer) Record(ctx context.Context, actorID string, req contract.ActionRequest) (contract.Contract, error) {
	if actorID == "" {
		return contract.Contract{}, failure.New(failure.QueueInvalidSession, "request %s: no actor", req.Action)
	}
	if err := validateRequest(req); err != nil {
		return contract.Contract{}, err
	}

	now := p.now().UTC()
	req.Actor = actorID
	if req.Timestamp == "" {
		req.Timestamp = contract.FormatTime(now)
	}
	if req.Epoch == 0 {
		req.Epoch = now.UnixMilli()
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	data, err := contract.Encode(req)
	if err != nil {
		return contract.Contract{}, failure.Wrap(failure.QueueInvalidRequest, err, "request %s", req.Action)
	}

	id := p.ids.Generate()
	c := contract.Contract{
		ID:        id,
		Slug:      "action-request-" + id,
		Version:   "1.0.0",
		Type:      contract.TypeActionRequest,
		Active:    true,
		Tags:      []string{},
		Data:      data,
		CreatedAt: now,
	}
	if err := p.events.Apply(ctx, store.Write{Inserts: []contract.Contract{c}}); err != nil {
		return contract.Contract{}, fmt.Errorf("record %s: %w", req.Action, err)
	}
	return c, nil
}

func validateRequest(req contract.ActionRequest) error {
	if req.Action == "" {
		return failure.New(failure.QueueInvalidRequest, "request has no action")
	}
	if _, err := contract.ParseTypeRef(req.Action); err != nil {
		return failure.Wrap(failure.QueueInvalidRequest, err, "invalid action %q", req.Action)
	}
	if req.Card == "" {
		return failure.New(failure.QueueInvalidRequest, "request for %s has no card", req.Action)
	}
	if req.Type == "" {
		return failure.New(failure.QueueInvalidRequest, "request for %s has no card type", req.Action)
	}
	return nil
}

// DeleteJob removes the pending job with the given key. Absent keys are
// a no-op.
func (p *Producer) DeleteJob(ctx context.Context, jobKey string) error {
	if err := p.jobs.DeleteJob(ctx, jobKey); err != nil {
		return err
	}
	slog.Debug("job deleted", "job_key", jobKey)
	return nil
}

// PostResults records the outcome of request as an execute contract
// linked to it by "executes". A request already answered fails with
// WorkerAlreadyExecuted.
func (p *Producer) PostResults(ctx context.Context, actorID string, request contract.Contract, results contract.Results) (contract.Contract, error) {
	var req contract.ActionRequest
	if err := contract.Decode(request.Data, &req); err != nil {
		return contract.Contract{}, failure.Wrap(failure.QueueInvalidRequest, err, "post results for %s", request.ID)
	}

	now := p.now().UTC()
	data, err := contract.Encode(contract.ExecuteEvent{
		Actor:      actorID,
		Target:     request.ID,
		Timestamp:  contract.FormatTime(now),
		Originator: req.Originator,
		Payload:    results,
	})
	if err != nil {
		return contract.Contract{}, fmt.Errorf("post results for %s: %w", request.ID, err)
	}

	id := p.ids.Generate()
	ev := contract.Contract{
		ID:        id,
		Slug:      contract.ExecuteSlug(request.ID),
		Version:   "1.0.0",
		Type:      contract.TypeExecute,
		Active:    true,
		Tags:      []string{},
		Data:      data,
		CreatedAt: now,
	}
	err = p.events.Apply(ctx, store.Write{
		Inserts: []contract.Contract{ev},
		Edges: []store.Edge{{
			LinkID:  id,
			Verb:    contract.VerbExecutes,
			Inverse: contract.VerbIsExecutedBy,
			From:    id,
			To:      request.ID,
		}},
	})
	if errors.Is(err, store.ErrConflict) {
		return contract.Contract{}, failure.Wrap(failure.WorkerAlreadyExecuted, err,
			"request %s was already executed", request.ID).With("request", request.ID)
	}
	if err != nil {
		return contract.Contract{}, fmt.Errorf("post results for %s: %w", request.ID, err)
	}

	slog.Debug("results posted",
		"request_id", request.ID,
		"execute_id", id,
		"error", results.Error,
	)
	return ev, nil
}

// Result is the recorded outcome of one request.
type Result struct {
	Error     bool
	Timestamp string
	Data      any
}

// Err reconstructs the typed error of a failed result.
func (r Result) Err() error {
	if !r.Error {
		return nil
	}
	return failure.FromPayload(r.Data)
}

// WaitResults blocks until the execute contract for request exists and
// returns its payload. It subscribes before looking, so a result posted
// concurrently is never missed. If the stream closes first it fails with
// QueueNoRequest.
func (p *Producer) WaitResults(ctx context.Context, request contract.Contract) (Result, error) {
	filter, err := schema.Compile(executeFilter(request.ID))
	if err != nil {
		return Result{}, fmt.Errorf("wait results for %s: %w", request.ID, err)
	}
	sub := p.events.Stream(filter)
	defer sub.Close()

	existing, err := p.events.GetBySlug(ctx, contract.ExecuteSlug(request.ID)+"@1.0.0")
	switch {
	case err == nil:
		return resultOf(existing)
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, fmt.Errorf("wait results for %s: %w", request.ID, err)
	}

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case change, ok := <-sub.C:
			if !ok {
				return Result{}, failure.New(failure.QueueNoRequest,
					"stream closed before request %s was executed", request.ID)
			}
			return resultOf(change.After)
		}
	}
}

func executeFilter(requestID string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"type", "data"},
		"properties": map[string]any{
			"type": map[string]any{"const": contract.TypeExecute},
			"data": map[string]any{
				"type":     "object",
				"required": []any{"target"},
				"properties": map[string]any{
					"target": map[string]any{"const": requestID},
				},
			},
		},
	}
}

func resultOf(c contract.Contract) (Result, error) {
	var ev contract.ExecuteEvent
	if err := contract.Decode(c.Data, &ev); err != nil {
		return Result{}, fmt.Errorf("decode execute %s: %w", c.ID, err)
	}
	return Result{
		Error:     ev.Payload.Error,
		Timestamp: ev.Timestamp,
		Data:      ev.Payload.Data,
	}, nil
}
