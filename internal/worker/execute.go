package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/store"
)

// Execute runs an action-request contract and records the outcome as its
// execute event.
//
// Action failures are not returned: they are persisted as an error
// payload and reported through the results. The returned error is set
// only when nothing could be recorded, and is WorkerAlreadyExecuted when
// the request already has an execute event or another run claimed it
// first. The claim is taken before the handler runs, so a request is
// handled at most once even when two workers receive it.
func (w *Worker) Execute(ctx context.Context, request contract.Contract) (contract.Results, error) {
	var res contract.Results
	err := w.inCascade(ctx, func(ctx context.Context) error {
		var err error
		res, err = w.execute(ctx, request)
		return err
	})
	return res, err
}

func (w *Worker) execute(ctx context.Context, request contract.Contract) (contract.Results, error) {
	var req contract.ActionRequest
	if err := contract.Decode(request.Data, &req); err != nil {
		return contract.Results{}, failure.Wrap(failure.QueueInvalidRequest, err, "request %s", request.ID)
	}

	_, err := w.store.GetBySlug(ctx, contract.ExecuteSlug(request.ID)+"@1.0.0")
	if err == nil {
		return contract.Results{}, failure.New(failure.WorkerAlreadyExecuted,
			"request %s was already executed", request.ID).With("request", request.ID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return contract.Results{}, fmt.Errorf("execute %s: %w", request.ID, err)
	}

	start := w.now()
	claimed, err := w.store.ClaimExecution(ctx, request.ID, start.UTC())
	if err != nil {
		return contract.Results{}, fmt.Errorf("execute %s: %w", request.ID, err)
	}
	if !claimed {
		return contract.Results{}, failure.New(failure.WorkerAlreadyExecuted,
			"request %s is claimed by another run", request.ID).With("request", request.ID)
	}

	data, runErr := w.run(ctx, request, req)
	results := contract.Results{Data: contract.Normalize(data)}
	if runErr != nil {
		results = contract.Results{Error: true, Data: failure.Payload(runErr)}
		slog.Warn("action failed",
			"request_id", request.ID,
			"action", req.Action,
			"card", req.Card,
			"error", runErr,
		)
	}

	if _, err := w.producer.PostResults(ctx, req.Actor, request, results); err != nil {
		return results, err
	}
	slog.Info("action executed",
		"request_id", request.ID,
		"action", req.Action,
		"card", req.Card,
		"originator", req.Originator,
		"error", results.Error,
		"duration", w.now().Sub(start),
	)

	if req.Schedule != "" {
		if err := w.rearm(ctx, req.Actor, req.Schedule); err != nil {
			slog.Error("re-arm scheduled action failed",
				"schedule_id", req.Schedule,
				"request_id", request.ID,
				"error", err,
			)
		}
	}
	return results, nil
}

// run resolves the action, validates the request and calls the handler.
func (w *Worker) run(ctx context.Context, request contract.Contract, req contract.ActionRequest) (any, error) {
	action, ok := w.actions.lookup(req.Action)
	if !ok {
		return nil, failure.New(failure.WorkerInvalidAction, "unknown action %s", req.Action)
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	if action.arguments != nil {
		if err := action.arguments.Validate(req.Arguments); err != nil {
			return nil, failure.Wrap(failure.WorkerSchemaMismatch, err, "arguments of %s", req.Action)
		}
	}

	if _, err := w.store.GetByID(ctx, req.Actor); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, failure.Wrap(failure.WorkerAuthenticationError, err, "unknown actor %s", req.Actor)
		}
		return nil, err
	}

	card, err := w.store.GetByID(ctx, req.Card)
	if errors.Is(err, store.ErrNotFound) {
		return nil, failure.Wrap(failure.WorkerNoElement, err, "no card %s", req.Card)
	}
	if err != nil {
		return nil, err
	}
	if action.filter != nil {
		if verbs := action.filter.LinkVerbs(); len(verbs) > 0 {
			if err := w.store.LoadLinks(ctx, &card, verbs...); err != nil {
				return nil, err
			}
		}
		if err := action.filter.CheckContract(card); err != nil {
			return nil, failure.Wrap(failure.WorkerSchemaMismatch, err, "%s does not apply to %s", req.Action, card.Slug)
		}
		card.Links = nil
	}

	hc := &Context{w: w, Request: request, Actor: req.Actor, Originator: req.Originator}
	args := req.Arguments
	if action.Pre != nil {
		if args, err = action.Pre(ctx, hc, args); err != nil {
			return nil, err
		}
	}
	return action.Handler(ctx, hc, card, args)
}
