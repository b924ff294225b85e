package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/formula"
	"github.com/roach88/contractworker/internal/queue"
	"github.com/roach88/contractworker/internal/schema"
	"github.com/roach88/contractworker/internal/store"
)

// AdminSlug is the slug of the privileged actor created by Bootstrap.
const AdminSlug = "user-admin"

// Worker executes action requests and owns the card write path.
//
// Thread-safety: a Worker is safe for concurrent use. Each Execute or
// write call runs its own cascade.
type Worker struct {
	store    *store.Store
	engine   *engine.Engine
	producer *queue.Producer
	actions  *Registry
	verbs    *formula.Registry
	schemas  *schema.Cache
	ids      engine.IDGenerator
	now      func() time.Time

	mu      sync.Mutex
	adminID string
}

// Option configures a Worker.
type Option func(*Worker)

// WithActions replaces the action registry.
//
// Default: DefaultRegistry()
func WithActions(r *Registry) Option {
	return func(w *Worker) {
		w.actions = r
	}
}

// WithVerbs replaces the link verb registry.
func WithVerbs(r *formula.Registry) Option {
	return func(w *Worker) {
		w.verbs = r
	}
}

// WithIDGenerator sets the generator for card and event ids.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(w *Worker) {
		w.ids = g
	}
}

// WithNow sets the wall clock used for timestamps and schedules.
func WithNow(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// New creates a worker. The engine must read from st.
func New(st *store.Store, eng *engine.Engine, producer *queue.Producer, opts ...Option) *Worker {
	w := &Worker{
		store:    st,
		engine:   eng,
		producer: producer,
		actions:  DefaultRegistry(),
		verbs:    formula.NewRegistry(),
		schemas:  st.Schemas(),
		ids:      engine.UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Actions returns the action registry.
func (w *Worker) Actions() *Registry {
	return w.actions
}

// Verbs returns the link verb registry.
func (w *Worker) Verbs() *formula.Registry {
	return w.verbs
}

// Engine returns the trigger engine.
func (w *Worker) Engine() *engine.Engine {
	return w.engine
}

// Store returns the document store.
func (w *Worker) Store() *store.Store {
	return w.store
}

// activeOf matches the active contracts of type ref.
func activeOf(ref string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"type", "active"},
		"properties": map[string]any{
			"type":   map[string]any{"const": ref},
			"active": map[string]any{"const": true},
		},
	}
}

// Load registers the stored relationships and rebuilds the trigger index.
func (w *Worker) Load(ctx context.Context) error {
	rels, err := w.store.Query(ctx, activeOf(contract.TypeRelationship), store.QueryOptions{})
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}
	for _, rel := range rels {
		if err := w.verbs.RegisterContract(rel); err != nil {
			slog.Warn("skipping invalid relationship", "relationship", rel.Slug, "error", err)
		}
	}
	return w.engine.Load(ctx)
}

// Admin returns the id of the privileged actor.
func (w *Worker) Admin(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.adminID != "" {
		return w.adminID, nil
	}
	c, err := w.store.GetBySlug(ctx, AdminSlug+"@1.0.0")
	if errors.Is(err, store.ErrNotFound) {
		return "", failure.Wrap(failure.WorkerAuthenticationError, err, "no %s actor; run bootstrap", AdminSlug)
	}
	if err != nil {
		return "", err
	}
	w.adminID = c.ID
	return c.ID, nil
}

// TypeCard loads a type contract by reference.
func (w *Worker) TypeCard(ctx context.Context, ref string) (contract.Contract, error) {
	c, err := w.store.GetBySlug(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return contract.Contract{}, failure.Wrap(failure.WorkerNoElement, err, "no type %s", ref)
	}
	if err != nil {
		return contract.Contract{}, err
	}
	if c.Type != contract.TypeType {
		return contract.Contract{}, failure.New(failure.WorkerNoElement, "%s is a %s, not a type", ref, c.Type)
	}
	return c, nil
}

// Types returns the active type contracts keyed by slug@version.
func (w *Worker) Types(ctx context.Context) (map[string]contract.Contract, error) {
	types, err := w.store.Query(ctx, activeOf(contract.TypeType), store.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("load types: %w", err)
	}
	out := make(map[string]contract.Contract, len(types))
	for _, t := range types {
		out[t.Ref()] = t
	}
	return out, nil
}

// EventSlug returns a fresh slug for an event of type slug typ.
func (w *Worker) EventSlug(typ string) string {
	return typ + "-" + contract.Slugify(w.ids.Generate())
}

// Enqueue queues a request on behalf of actorID.
func (w *Worker) Enqueue(ctx context.Context, actorID string, req contract.ActionRequest) (contract.Contract, error) {
	if !w.actions.Has(req.Action) {
		return contract.Contract{}, failure.New(failure.WorkerInvalidAction, "unknown action %s", req.Action)
	}
	return w.producer.Enqueue(ctx, actorID, req, nil)
}

// Handle is the queue handler. Requests that already executed or can
// never execute are acknowledged; other failures are retried.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	_, err := w.Execute(ctx, d.Request)
	switch {
	case err == nil:
		return nil
	case failure.Is(err, failure.WorkerAlreadyExecuted):
		slog.Warn("request already executed, dropping job",
			"request_id", d.Request.ID,
			"job_id", d.Job.ID,
		)
		return nil
	case failure.Permanent(err):
		slog.Error("request cannot execute, dropping job",
			"request_id", d.Request.ID,
			"job_id", d.Job.ID,
			"error", err,
		)
		return nil
	default:
		return err
	}
}
