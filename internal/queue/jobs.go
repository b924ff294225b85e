package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/schema"
	"github.com/roach88/contractworker/internal/store"
)

// JobStore is the durable job table. *store.Store (SQLite) and
// *pgjobs.Store (PostgreSQL) implement it.
type JobStore interface {
	Ping(ctx context.Context) error
	UpsertJob(ctx context.Context, spec store.JobSpec, now time.Time) (int64, error)
	DeleteJob(ctx context.Context, key string) error
	ClaimJob(ctx context.Context, worker string, now, staleBefore time.Time) (*store.Job, error)
	CompleteJob(ctx context.Context, id int64) error
	FailJob(ctx context.Context, id int64, reason string, retryAt time.Time) error
	ListJobs(ctx context.Context) ([]store.Job, error)
}

// EventStore is the part of the document store the queue writes to.
type EventStore interface {
	Apply(ctx context.Context, w store.Write) error
	GetBySlug(ctx context.Context, ref string) (contract.Contract, error)
	Stream(filter *schema.Schema) *store.Subscription
}

// DefaultMaxAttempts bounds how often a failing job is retried.
const DefaultMaxAttempts = 25

// Schedule defers a job to RunAt under JobKey. A later enqueue with the
// same key replaces the pending job.
type Schedule struct {
	JobKey string
	RunAt  time.Time
}

// Delivery is a claimed job and the action-request contract it carries.
type Delivery struct {
	Job     store.Job
	Request contract.Contract
}

// ActionRequest decodes the request payload.
func (d Delivery) ActionRequest() (contract.ActionRequest, error) {
	var req contract.ActionRequest
	if err := contract.Decode(d.Request.Data, &req); err != nil {
		return contract.ActionRequest{}, fmt.Errorf("decode request %s: %w", d.Request.ID, err)
	}
	return req, nil
}

func encodePayload(c contract.Contract) ([]byte, error) {
	return json.Marshal(c)
}

func decodeDelivery(job store.Job) (Delivery, error) {
	var c contract.Contract
	if err := json.Unmarshal(job.Payload, &c); err != nil {
		return Delivery{}, fmt.Errorf("decode job %d payload: %w", job.ID, err)
	}
	if c.ID == "" {
		return Delivery{}, fmt.Errorf("decode job %d payload: no request id", job.ID)
	}
	return Delivery{Job: job, Request: c}, nil
}

// Backoff is the delay before retry number attempts: e^attempts seconds,
// capped at one day.
func Backoff(attempts int) time.Duration {
	secs := math.Exp(float64(attempts))
	if secs > 86400 {
		secs = 86400
	}
	return time.Duration(secs * float64(time.Second))
}
