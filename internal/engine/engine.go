package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/schema"
	"github.com/roach88/contractworker/internal/store"
	"github.com/roach88/contractworker/internal/template"
)

// Reader is the read side of the document store used for matching.
type Reader interface {
	GetByID(ctx context.Context, id string) (contract.Contract, error)
	LoadLinks(ctx context.Context, c *contract.Contract, verbs ...string) error
	Query(ctx context.Context, filter map[string]any, opts store.QueryOptions) ([]contract.Contract, error)
}

// Emission is one action request produced by a trigger.
type Emission struct {
	Trigger *Trigger
	Request contract.ActionRequest
}

// Engine owns the trigger index and turns mutations into emissions.
//
// Thread-safety: Evaluate, Fire and the trigger setters are safe from any
// goroutine. A Cascade is not; it belongs to the goroutine running the
// outer mutation.
type Engine struct {
	reader   Reader
	schemas  *schema.Cache
	index    *TriggerIndex
	clock    *Clock
	ids      IDGenerator
	now      func() time.Time
	maxSteps int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps sets the inline execution quota per cascade.
//
// Default: 100 steps (DefaultMaxSteps)
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithIDGenerator sets the cascade token generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithNow sets the wall clock used for request timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine with an empty index. Call Load to populate it.
func New(reader Reader, schemas *schema.Cache, opts ...Option) *Engine {
	e := &Engine{
		reader:   reader,
		schemas:  schemas,
		index:    NewTriggerIndex(),
		clock:    NewClock(),
		ids:      UUIDv7Generator{},
		now:      time.Now,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// activeTriggers selects every active triggered action.
var activeTriggers = map[string]any{
	"type":     "object",
	"required": []any{"type", "active"},
	"properties": map[string]any{
		"type":   map[string]any{"const": contract.TypeTriggeredAction},
		"active": map[string]any{"const": true},
	},
}

// Load rebuilds the index from the store. Triggers that fail to compile
// are logged and left out.
func (e *Engine) Load(ctx context.Context) error {
	found, err := e.reader.Query(ctx, activeTriggers, store.QueryOptions{})
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}

	ts := make([]*Trigger, 0, len(found))
	for _, c := range found {
		t, err := CompileTrigger(c, e.schemas)
		if err != nil {
			slog.Warn("skipping invalid trigger",
				"trigger_id", c.ID,
				"trigger_slug", c.Slug,
				"error", err,
			)
			continue
		}
		ts = append(ts, t)
	}
	e.index.Set(ts)

	slog.Info("triggers loaded",
		"count", len(ts),
		"skipped", len(found)-len(ts),
	)
	return nil
}

// SetTrigger compiles c and indexes it. An inactive contract removes the
// trigger instead.
func (e *Engine) SetTrigger(c contract.Contract) error {
	if !c.Active {
		e.RemoveTrigger(c.ID)
		return nil
	}
	t, err := CompileTrigger(c, e.schemas)
	if err != nil {
		return err
	}
	e.index.Insert(t)
	slog.Debug("trigger indexed",
		"trigger_id", t.ID,
		"trigger_slug", t.Slug,
		"schedule", t.Schedule,
		"periodic", t.Periodic(),
	)
	return nil
}

// RemoveTrigger drops a trigger from the index.
func (e *Engine) RemoveTrigger(id string) bool {
	removed := e.index.Remove(id)
	if removed {
		slog.Debug("trigger removed", "trigger_id", id)
	}
	return removed
}

// Index returns the trigger index.
func (e *Engine) Index() *TriggerIndex {
	return e.index
}

// MaxSteps returns the per-cascade quota.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// Now returns the engine's wall time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// NewCascade starts a cascade with a fresh token.
func (e *Engine) NewCascade() *Cascade {
	return NewCascade(e.ids.Generate(), e.maxSteps)
}

// Evaluate matches m against the indexed triggers and resolves the
// emissions of every trigger that fires, in trigger slug order.
//
// Target and argument failures are logged and isolated to their trigger.
// Only store failures abort evaluation.
func (e *Engine) Evaluate(ctx context.Context, m Mutation, actorID string) ([]Emission, error) {
	candidates := e.index.MatchesFor(m.After.Type)
	if len(candidates) == 0 {
		return nil, nil
	}

	after := m.After.Clone()
	if err := e.reader.LoadLinks(ctx, &after); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", after.ID, err)
	}
	m.After = after
	if m.Before != nil {
		before := m.Before.Clone()
		if err := e.reader.LoadLinks(ctx, &before); err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", before.ID, err)
		}
		m.Before = &before
	}

	now := e.now()
	var env *template.Env
	var out []Emission
	for _, t := range candidates {
		if !Match(t, m) {
			continue
		}
		slog.Debug("trigger matched",
			"trigger_id", t.ID,
			"trigger_slug", t.Slug,
			"contract_id", after.ID,
			"event_id", m.EventID,
		)
		if env == nil {
			v := template.NewEnv(after.Map(), e.actor(ctx, actorID), contract.FormatTime(now))
			env = &v
		}
		emitted, err := e.emit(ctx, t, *env, actorID, m.EventID, now)
		if err != nil {
			return out, err
		}
		out = append(out, emitted...)
	}
	return out, nil
}

// Fire resolves the emissions of t with source as the triggering
// contract. The tick loop uses it for periodic triggers.
func (e *Engine) Fire(ctx context.Context, t *Trigger, source contract.Contract, actorID, originator string, now time.Time) ([]Emission, error) {
	env := template.NewEnv(source.Map(), e.actor(ctx, actorID), contract.FormatTime(now))
	return e.emit(ctx, t, env, actorID, originator, now)
}

func (e *Engine) emit(ctx context.Context, t *Trigger, env template.Env, actorID, originator string, now time.Time) ([]Emission, error) {
	ids, err := Resolve(t.Target, env)
	if err != nil {
		slog.Warn("trigger target resolution failed",
			"trigger_id", t.ID,
			"trigger_slug", t.Slug,
			"error", err,
		)
		return nil, nil
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rendered, err := template.Evaluate(t.Arguments, env)
	if err != nil {
		slog.Warn("trigger arguments failed, skipping targets",
			"trigger_id", t.ID,
			"trigger_slug", t.Slug,
			"targets", len(ids),
			"error", err,
		)
		return nil, nil
	}
	args, ok := rendered.(map[string]any)
	if !ok {
		slog.Warn("trigger arguments are not an object, skipping targets",
			"trigger_id", t.ID,
			"trigger_slug", t.Slug,
		)
		return nil, nil
	}

	out := make([]Emission, 0, len(ids))
	for _, id := range ids {
		target, err := e.reader.GetByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("trigger target not found",
				"trigger_id", t.ID,
				"trigger_slug", t.Slug,
				"target_id", id,
			)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("trigger %s: load target %s: %w", t.Slug, id, err)
		}
		out = append(out, Emission{
			Trigger: t,
			Request: contract.ActionRequest{
				Action:     t.Action,
				Card:       target.ID,
				Type:       target.Type,
				Actor:      actorID,
				Arguments:  contract.CloneMap(args),
				Timestamp:  contract.FormatTime(now),
				Epoch:      e.clock.Next(now),
				Originator: originator,
			},
		})
	}
	return out, nil
}

// actor returns the actor as seen by templates: its contract when it
// exists, otherwise just its id.
func (e *Engine) actor(ctx context.Context, actorID string) any {
	if actorID == "" {
		return nil
	}
	c, err := e.reader.GetByID(ctx, actorID)
	if err != nil {
		return map[string]any{"id": actorID}
	}
	return c.Map()
}
