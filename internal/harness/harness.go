package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/contractworker/internal/compiler"
	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/queue"
	"github.com/roach88/contractworker/internal/scheduler"
	"github.com/roach88/contractworker/internal/store"
	"github.com/roach88/contractworker/internal/testutil"
	"github.com/roach88/contractworker/internal/worker"
)

// Harness is a worker wired for deterministic execution: an in-memory
// store, a fake clock and sequential ids. Jobs only run on drain steps.
type Harness struct {
	store     *store.Store
	worker    *worker.Worker
	consumer  *queue.Consumer
	scheduler *scheduler.Scheduler
	clock     *testutil.FakeClock
	admin     string
}

// New builds a bootstrapped harness whose clock reads start.
func New(ctx context.Context, start time.Time) (*Harness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	clock := testutil.NewFakeClock(start)
	ids := testutil.NewSequenceGenerator("id")
	eng := engine.New(st, st.Schemas(), engine.WithNow(clock.Now), engine.WithIDGenerator(ids))
	producer := queue.NewProducer(st, st, queue.WithIDGenerator(ids), queue.WithNow(clock.Now))
	w := worker.New(st, eng, producer, worker.WithIDGenerator(ids), worker.WithNow(clock.Now))

	if err := w.Bootstrap(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	admin, err := w.Admin(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	consumer := queue.NewConsumer(st, queue.Options{WorkerID: "harness"})
	consumer.SetNow(clock.Now)

	return &Harness{
		store:     st,
		worker:    w,
		consumer:  consumer,
		scheduler: scheduler.New(w, clock.Now),
		clock:     clock,
		admin:     admin,
	}, nil
}

// Close releases the store.
func (h *Harness) Close() error {
	return h.store.Close()
}

// Run executes a scenario in a fresh harness and returns the result.
//
// Execution flow:
//  1. Bootstrap an in-memory worker at the scenario start time
//  2. Compile and install the definition directories
//  3. Run the steps, stopping at the first unexpected outcome
//  4. Collect the execution trace and evaluate assertions
//
// Errors are returned only when the harness itself cannot run; scenario
// failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	start, err := scenario.StartTime()
	if err != nil {
		return nil, err
	}
	h, err := New(ctx, start)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	for _, dir := range scenario.Specs {
		if err := h.Install(ctx, dir); err != nil {
			return nil, fmt.Errorf("failed to install specs: %w", err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if msg := h.runStep(ctx, step); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
			break
		}
	}

	trace, err := h.Trace(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect trace: %w", err)
	}
	result.Trace = trace

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{Harness: h, Ctx: ctx}) {
		result.AddError(msg)
	}
	return result, nil
}

// Install compiles the CUE definitions in dir, validates them and
// installs them as the admin actor.
func (h *Harness) Install(ctx context.Context, dir string) error {
	compiled, errs := compiler.Load(dir, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return errs[0]
	}
	if verrs := compiler.Validate(compiled, h.worker.Actions().Has, h.clock.Now()); len(verrs) > 0 {
		return verrs[0]
	}
	_, err := h.worker.Install(ctx, h.admin, compiled.Contracts()...)
	return err
}

// runStep returns a description of what went wrong, or "" when the step
// behaved as expected.
func (h *Harness) runStep(ctx context.Context, step Step) string {
	err := h.apply(ctx, step)
	switch {
	case step.Error == "" && err != nil:
		return err.Error()
	case step.Error == "":
		return ""
	case err == nil:
		return fmt.Sprintf("expected %s, step succeeded", step.Error)
	case !failure.Is(err, failure.Name(step.Error)):
		return fmt.Sprintf("expected %s, got %v", step.Error, err)
	}
	return ""
}

func (h *Harness) apply(ctx context.Context, step Step) error {
	switch {
	case step.Insert != nil:
		s := step.Insert
		typeCard, err := h.worker.TypeCard(ctx, ref(s.Type))
		if err != nil {
			return err
		}
		_, err = h.worker.InsertCard(ctx, h.admin, typeCard, contract.Contract{
			ID:     s.ID,
			Slug:   s.Slug,
			Name:   s.Name,
			Active: true,
			Data:   contract.CloneMap(s.Data),
		})
		return err

	case step.Patch != nil:
		card, err := h.Card(ctx, step.Patch.Card)
		if err != nil {
			return err
		}
		_, err = h.worker.PatchCard(ctx, h.admin, card, step.Patch.Patch)
		return err

	case step.Link != nil:
		from, err := h.Card(ctx, step.Link.From)
		if err != nil {
			return err
		}
		to, err := h.Card(ctx, step.Link.To)
		if err != nil {
			return err
		}
		_, err = h.worker.CreateLink(ctx, h.admin, step.Link.Verb, from, to)
		return err

	case step.Delete != nil:
		card, err := h.Card(ctx, step.Delete.Card)
		if err != nil {
			return err
		}
		_, err = h.worker.PatchCard(ctx, h.admin, card, []any{
			map[string]any{"op": "replace", "path": "/active", "value": false},
		})
		return err

	case step.Enqueue != nil:
		s := step.Enqueue
		card, err := h.Card(ctx, s.Card)
		if err != nil {
			return err
		}
		_, err = h.worker.Enqueue(ctx, h.admin, contract.ActionRequest{
			Action:    ref(s.Action),
			Card:      card.ID,
			Type:      card.Type,
			Arguments: contract.CloneMap(s.Arguments),
		})
		return err

	case step.Drain != nil:
		n, err := h.consumer.Drain(ctx, h.worker.Handle, step.Drain.Limit)
		slog.Debug("harness drained jobs", "count", n)
		return err

	case step.Tick != nil:
		_, err := h.scheduler.Tick(ctx, h.clock.Now())
		return err

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		return nil
	}
	return errors.New("empty step")
}

// Card loads a card by reference.
func (h *Harness) Card(ctx context.Context, reference string) (contract.Contract, error) {
	c, err := h.store.GetBySlug(ctx, ref(reference))
	if errors.Is(err, store.ErrNotFound) {
		return contract.Contract{}, failure.Wrap(failure.WorkerNoElement, err, "no card %s", reference)
	}
	return c, err
}

// Trace lists every execution in completion order.
func (h *Harness) Trace(ctx context.Context) ([]TraceEvent, error) {
	executes, err := h.store.Query(ctx, map[string]any{
		"type":       "object",
		"required":   []any{"type"},
		"properties": map[string]any{"type": map[string]any{"const": contract.TypeExecute}},
	}, store.QueryOptions{})
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for _, c := range executes {
		var ev contract.ExecuteEvent
		if err := contract.Decode(c.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode execute %s: %w", c.ID, err)
		}
		request, err := h.store.GetByID(ctx, ev.Target)
		if err != nil {
			return nil, fmt.Errorf("request of execute %s: %w", c.ID, err)
		}
		var req contract.ActionRequest
		if err := contract.Decode(request.Data, &req); err != nil {
			return nil, fmt.Errorf("decode request %s: %w", request.ID, err)
		}

		card := req.Card
		if target, err := h.store.GetByID(ctx, req.Card); err == nil {
			card = target.Slug
		}
		var name string
		if ev.Payload.Error {
			name = string(failure.NameOf(failure.FromPayload(ev.Payload.Data)))
		}
		result.AddTrace(req.Action, card, name)
	}
	return result.Trace, nil
}

// ref appends the default version to a bare slug.
func ref(s string) string {
	if strings.Contains(s, "@") {
		return s
	}
	return s + "@1.0.0"
}
