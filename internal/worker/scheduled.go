package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/queue"
	"github.com/roach88/contractworker/internal/schedule"
	"github.com/roach88/contractworker/internal/store"
)

// reschedule keeps the job of a scheduled action in step with a write to
// it. Writes that leave active, options and schedule alone keep the job.
func (w *Worker) reschedule(ctx context.Context, actorID string, before *contract.Contract, after contract.Contract) error {
	if before != nil && before.Active == after.Active &&
		reflect.DeepEqual(before.Data["options"], after.Data["options"]) &&
		reflect.DeepEqual(before.Data["schedule"], after.Data["schedule"]) {
		return nil
	}
	return w.arm(ctx, actorID, after)
}

// rearm derives the next run of a scheduled action after one of its
// requests executed.
func (w *Worker) rearm(ctx context.Context, actorID, scheduleID string) error {
	sa, err := w.store.GetByID(ctx, scheduleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return w.arm(ctx, actorID, sa)
}

// arm upserts the job keyed by the scheduled action's id, or deletes it
// when the action is inactive or will never run again.
func (w *Worker) arm(ctx context.Context, actorID string, sa contract.Contract) error {
	if !sa.Active {
		slog.Info("scheduled action inactive, removing job", "schedule_id", sa.ID)
		return w.producer.DeleteJob(ctx, sa.ID)
	}

	var data contract.ScheduledAction
	if err := contract.Decode(sa.Data, &data); err != nil {
		return failure.Wrap(failure.QueueInvalidAction, err, "scheduled action %s", sa.Slug)
	}
	next, err := schedule.NextExecutionDate(data.Schedule, w.now())
	if err != nil {
		return err
	}
	if next == nil {
		slog.Info("scheduled action has no next run, removing job", "schedule_id", sa.ID)
		return w.producer.DeleteJob(ctx, sa.ID)
	}

	opts := data.Options
	req := contract.ActionRequest{
		Action:    opts.Action,
		Card:      opts.Card,
		Type:      opts.Type,
		Context:   opts.Context,
		Arguments: opts.Arguments,
		Schedule:  sa.ID,
	}
	if req.Type == "" && req.Card != "" {
		card, err := w.store.GetByID(ctx, req.Card)
		if err != nil {
			return fmt.Errorf("scheduled action %s: target %s: %w", sa.Slug, req.Card, err)
		}
		req.Type = card.Type
	}
	actor := opts.Actor
	if actor == "" {
		actor = actorID
	}

	if _, err := w.producer.Enqueue(ctx, actor, req, &queue.Schedule{JobKey: sa.ID, RunAt: *next}); err != nil {
		return fmt.Errorf("scheduled action %s: %w", sa.Slug, err)
	}
	slog.Info("scheduled action armed",
		"schedule_id", sa.ID,
		"action", req.Action,
		"run_at", *next,
	)
	return nil
}
