// Package scheduler fires interval triggers.
//
// A triggered action with an interval fires once per boundary
// startDate + k*interval. Each boundary is claimed in the store's tick
// ledger before anything is enqueued, so overlapping ticks, including
// ticks from other processes sharing the store, fire it once. Boundaries
// missed while no scheduler ran collapse into the latest one.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/schedule"
	"github.com/roach88/contractworker/internal/worker"
)

// Scheduler evaluates the periodic triggers of a worker's engine.
type Scheduler struct {
	w   *worker.Worker
	now func() time.Time
}

// New creates a scheduler for w. now defaults to time.Now.
func New(w *worker.Worker, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{w: w, now: now}
}

// Status describes one periodic trigger.
type Status struct {
	TriggerID   string        `json:"trigger_id"`
	TriggerSlug string        `json:"trigger_slug"`
	Interval    time.Duration `json:"interval"`
	// LastFired is the latest claimed boundary, zero if none.
	LastFired time.Time `json:"last_fired"`
	// Due is the boundary the next tick would fire, zero if none.
	Due time.Time `json:"due"`
}

// Tick fires every periodic trigger whose latest boundary at or before now
// has not fired yet, and returns the number of requests enqueued.
//
// A trigger that fails to resolve or enqueue is logged and skipped; only
// tick-ledger failures abort the tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	triggers := s.w.Engine().Index().Periodic()
	if len(triggers) == 0 {
		return 0, nil
	}
	admin, err := s.w.Admin(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, t := range triggers {
		boundary, ok := schedule.LatestBoundary(t.StartDate, t.Interval, now)
		if !ok {
			continue
		}
		claimed, err := s.w.Store().ClaimTick(ctx, t.ID, boundary, now)
		if err != nil {
			return enqueued, fmt.Errorf("tick: %w", err)
		}
		if !claimed {
			slog.Debug("boundary already fired", "trigger_id", t.ID, "boundary", boundary)
			continue
		}
		enqueued += s.fire(ctx, t, admin, boundary, now)
	}
	return enqueued, nil
}

func (s *Scheduler) fire(ctx context.Context, t *engine.Trigger, admin string, boundary, now time.Time) int {
	emissions, err := s.w.Engine().Fire(ctx, t, t.Contract, admin, t.ID, now)
	if err != nil {
		slog.Error("periodic trigger failed",
			"trigger_id", t.ID,
			"trigger_slug", t.Slug,
			"boundary", boundary,
			"error", err,
		)
		return 0
	}

	n := 0
	for _, e := range emissions {
		req, err := s.w.Enqueue(ctx, e.Request.Actor, e.Request)
		if err != nil {
			slog.Error("enqueue periodic request failed",
				"trigger_id", t.ID,
				"target_id", e.Request.Card,
				"error", err,
			)
			continue
		}
		slog.Info("periodic trigger fired",
			"trigger_id", t.ID,
			"trigger_slug", t.Slug,
			"boundary", boundary,
			"request_id", req.ID,
			"target_id", e.Request.Card,
		)
		n++
	}
	return n
}

// Pending reports the state of every periodic trigger at now.
func (s *Scheduler) Pending(ctx context.Context, now time.Time) ([]Status, error) {
	var out []Status
	for _, t := range s.w.Engine().Index().Periodic() {
		st := Status{TriggerID: t.ID, TriggerSlug: t.Slug, Interval: t.Interval}
		last, ok, err := s.w.Store().LastTick(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			st.LastFired = last
		}
		if boundary, ok := schedule.LatestBoundary(t.StartDate, t.Interval, now.UTC()); ok && boundary.After(st.LastFired) {
			st.Due = boundary
		}
		out = append(out, st)
	}
	return out, nil
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: tick interval must be positive, got %s", interval)
	}
	slog.Info("scheduler started", "interval", interval)
	defer slog.Info("scheduler stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := s.Tick(ctx, s.now()); err != nil {
			slog.Error("tick failed", "error", err)
		} else if n > 0 {
			slog.Debug("tick complete", "enqueued", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
