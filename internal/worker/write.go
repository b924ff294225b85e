package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/formula"
	"github.com/roach88/contractworker/internal/schedule"
	"github.com/roach88/contractworker/internal/store"
)

// InsertCard creates card as an instance of typeCard on behalf of actorID.
//
// Missing id, version, slug, tags and data are filled in. Formulas are
// evaluated and the result validated against the type schema before
// anything is written. Inserting a slug@version that exists fails with
// store.ErrConflict.
func (w *Worker) InsertCard(ctx context.Context, actorID string, typeCard, card contract.Contract) (contract.Contract, error) {
	var out contract.Contract
	err := w.inCascade(ctx, func(ctx context.Context) error {
		var err error
		out, err = w.insert(ctx, actorID, typeCard, card)
		return err
	})
	return out, err
}

// PatchCard applies an RFC 6902 patch to card. An empty patch still
// recomputes formulas. A patch that changes nothing writes nothing and
// returns card unchanged.
func (w *Worker) PatchCard(ctx context.Context, actorID string, card contract.Contract, patch []any) (contract.Contract, error) {
	var out contract.Contract
	err := w.inCascade(ctx, func(ctx context.Context) error {
		var err error
		out, err = w.patch(ctx, actorID, card, patch)
		return err
	})
	return out, err
}

// ReplaceCard upserts card by slug@version: it is inserted when absent,
// otherwise its name, tags, active flag and data replace the stored ones.
func (w *Worker) ReplaceCard(ctx context.Context, actorID string, typeCard, card contract.Contract) (contract.Contract, error) {
	var out contract.Contract
	err := w.inCascade(ctx, func(ctx context.Context) error {
		var err error
		out, err = w.replace(ctx, actorID, typeCard, card)
		return err
	})
	return out, err
}

func (w *Worker) insert(ctx context.Context, actorID string, typeCard, card contract.Contract) (contract.Contract, error) {
	now := w.now().UTC()
	c := card.Clone()
	c.Type = typeCard.Ref()
	if c.ID == "" {
		c.ID = w.ids.Generate()
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.Slug == "" {
		c.Slug = typeCard.Slug + "-" + contract.Slugify(c.ID)
	}
	if !contract.ValidSlug(c.Slug) {
		return contract.Contract{}, failure.New(failure.WorkerSchemaMismatch, "invalid slug %q", c.Slug)
	}
	c.CreatedAt = now
	c.UpdatedAt = nil

	c, err := w.prepare(ctx, typeCard, c, false)
	if err != nil {
		return contract.Contract{}, err
	}

	event := w.event(contract.TypeCreate, actorID, c.ID, now, c.Data)
	err = w.store.Apply(ctx, store.Write{
		Inserts: []contract.Contract{c, event},
		Edges:   []store.Edge{attach(event, c)},
	})
	if err != nil {
		return contract.Contract{}, fmt.Errorf("insert %s: %w", c.Ref(), err)
	}

	slog.Info("card inserted",
		"card_id", c.ID,
		"card_slug", c.Slug,
		"type", c.Type,
		"event_id", event.ID,
	)
	return c, w.afterWrite(ctx, actorID, nil, c, event.ID)
}

func (w *Worker) patch(ctx context.Context, actorID string, current contract.Contract, ops []any) (contract.Contract, error) {
	typeCard, err := w.TypeCard(ctx, current.Type)
	if err != nil {
		return contract.Contract{}, err
	}
	if ops == nil {
		ops = []any{}
	}

	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return contract.Contract{}, failure.Wrap(failure.WorkerSchemaMismatch, err, "encode patch")
	}
	p, err := jsonpatch.DecodePatch(opsJSON)
	if err != nil {
		return contract.Contract{}, failure.Wrap(failure.WorkerSchemaMismatch, err, "invalid patch for %s", current.ID)
	}
	view := current.Map()
	delete(view, "links")
	doc, err := json.Marshal(view)
	if err != nil {
		return contract.Contract{}, fmt.Errorf("patch %s: %w", current.ID, err)
	}
	patched, err := p.Apply(doc)
	if err != nil {
		return contract.Contract{}, failure.Wrap(failure.WorkerSchemaMismatch, err, "patch %s", current.ID)
	}

	var m map[string]any
	if err := json.Unmarshal(patched, &m); err != nil {
		return contract.Contract{}, fmt.Errorf("patch %s: %w", current.ID, err)
	}
	next, err := contract.FromMap(m)
	if err != nil {
		return contract.Contract{}, failure.Wrap(failure.WorkerSchemaMismatch, err, "patch %s", current.ID)
	}
	if next.ID != current.ID || next.Type != current.Type {
		return contract.Contract{}, failure.New(failure.WorkerSchemaMismatch, "patch %s: id and type are immutable", current.ID)
	}
	next.CreatedAt = current.CreatedAt
	return w.update(ctx, actorID, typeCard, current, next, ops)
}

func (w *Worker) replace(ctx context.Context, actorID string, typeCard, card contract.Contract) (contract.Contract, error) {
	version := card.Version
	if version == "" {
		version = "1.0.0"
	}
	existing, err := w.store.GetBySlug(ctx, card.Slug+"@"+version)
	if errors.Is(err, store.ErrNotFound) {
		return w.insert(ctx, actorID, typeCard, card)
	}
	if err != nil {
		return contract.Contract{}, fmt.Errorf("replace %s: %w", card.Slug, err)
	}
	if existing.Type != typeCard.Ref() {
		return contract.Contract{}, failure.New(failure.WorkerSchemaMismatch,
			"replace %s: stored as %s, not %s", existing.Ref(), existing.Type, typeCard.Ref())
	}

	next := existing.Clone()
	next.Name = card.Name
	next.Active = card.Active
	next.Tags = card.Tags
	next.Data = contract.CloneMap(card.Data)
	return w.update(ctx, actorID, typeCard, existing, next, replaceOps(existing, next))
}

// update validates and writes next over current, recording ops in the
// update event.
func (w *Worker) update(ctx context.Context, actorID string, typeCard, current, next contract.Contract, ops []any) (contract.Contract, error) {
	next, err := w.prepare(ctx, typeCard, next, true)
	if err != nil {
		return contract.Contract{}, err
	}
	if sameContent(current, next) {
		slog.Debug("write changes nothing", "card_id", current.ID)
		return current, nil
	}

	now := w.now().UTC()
	next.UpdatedAt = &now
	event := w.event(contract.TypeUpdate, actorID, next.ID, now, ops)
	err = w.store.Apply(ctx, store.Write{
		Updates: []contract.Contract{next},
		Inserts: []contract.Contract{event},
		Edges:   []store.Edge{attach(event, next)},
	})
	if err != nil {
		return contract.Contract{}, fmt.Errorf("update %s: %w", next.ID, err)
	}

	slog.Info("card updated",
		"card_id", next.ID,
		"card_slug", next.Slug,
		"type", next.Type,
		"event_id", event.ID,
	)
	return next, w.afterWrite(ctx, actorID, &current, next, event.ID)
}

// prepare refreshes formulas and validates c before it is written.
func (w *Worker) prepare(ctx context.Context, typeCard, c contract.Contract, stored bool) (contract.Contract, error) {
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}

	typeSchema, _ := typeCard.Data["schema"].(map[string]any)
	verbs, err := formula.LinkVerbs(typeSchema)
	if err != nil {
		return contract.Contract{}, failure.Wrap(failure.WorkerSchemaMismatch, err, "type %s", typeCard.Ref())
	}
	if len(verbs) > 0 {
		c.Links = make(map[string][]contract.Contract, len(verbs))
		for _, verb := range verbs {
			c.Links[verb] = []contract.Contract{}
		}
		if stored {
			if err := w.store.LoadLinks(ctx, &c, verbs...); err != nil {
				return contract.Contract{}, err
			}
		}
	}
	c, errs := formula.Evaluate(typeSchema, c)
	for _, err := range errs {
		slog.Warn("formula failed", "card_id", c.ID, "type", c.Type, "error", err)
	}
	c.Links = nil

	if typeSchema != nil {
		s, err := w.schemas.Compile(typeSchema)
		if err != nil {
			return contract.Contract{}, failure.Wrap(failure.WorkerSchemaMismatch, err, "type %s has an invalid schema", typeCard.Ref())
		}
		view := c.Map()
		delete(view, "links")
		if err := s.Validate(view); err != nil {
			return contract.Contract{}, failure.Wrap(failure.WorkerSchemaMismatch, err, "%s does not match %s", c.Slug, typeCard.Ref())
		}
	}

	switch typeCard.Ref() {
	case contract.TypeTriggeredAction:
		if c.Active {
			if _, err := engine.CompileTrigger(c, w.schemas); err != nil {
				return contract.Contract{}, err
			}
		}
	case contract.TypeScheduledAction:
		var sa contract.ScheduledAction
		if err := contract.Decode(c.Data, &sa); err != nil {
			return contract.Contract{}, failure.Wrap(failure.QueueInvalidAction, err, "scheduled action %s", c.Slug)
		}
		if _, err := schedule.NextExecutionDate(sa.Schedule, w.now()); err != nil {
			return contract.Contract{}, err
		}
		if !w.actions.Has(sa.Options.Action) {
			return contract.Contract{}, failure.New(failure.QueueInvalidAction,
				"scheduled action %s: unknown action %q", c.Slug, sa.Options.Action)
		}
	case contract.TypeRelationship:
		if c.Name == "" {
			return contract.Contract{}, failure.New(failure.WorkerSchemaMismatch, "relationship %s has no verb name", c.Slug)
		}
	}
	return c, nil
}

// afterWrite keeps the indexes and job table in step with a committed
// write, then reacts to it.
func (w *Worker) afterWrite(ctx context.Context, actorID string, before *contract.Contract, after contract.Contract, eventID string) error {
	var errs []error
	switch after.Type {
	case contract.TypeTriggeredAction:
		if err := w.engine.SetTrigger(after); err != nil {
			errs = append(errs, err)
		}
	case contract.TypeRelationship:
		if after.Active {
			if err := w.verbs.RegisterContract(after); err != nil {
				errs = append(errs, err)
			} else if err := w.resynthesize(ctx, actorID, after); err != nil {
				errs = append(errs, err)
			}
		}
	case contract.TypeType:
		if err := w.synthesize(ctx, actorID, after); err != nil {
			errs = append(errs, err)
		}
	case contract.TypeScheduledAction:
		if err := w.reschedule(ctx, actorID, before, after); err != nil {
			errs = append(errs, err)
		}
	}

	if err := w.react(ctx, actorID, engine.Mutation{Before: before, After: after, EventID: eventID}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// synthesize upserts the formula triggers of a type.
func (w *Worker) synthesize(ctx context.Context, actorID string, typeContract contract.Contract) error {
	if !typeContract.Active {
		return nil
	}
	triggers, err := formula.Synthesize(typeContract, w.verbs)
	if err != nil || len(triggers) == 0 {
		return err
	}
	triggerType, err := w.TypeCard(ctx, contract.TypeTriggeredAction)
	if err != nil {
		return err
	}
	for _, t := range triggers {
		stored, err := w.replace(ctx, actorID, triggerType, t)
		if err != nil {
			return fmt.Errorf("synthesize %s: %w", t.Slug, err)
		}
		slog.Info("formula trigger synthesized",
			"type", typeContract.Ref(),
			"trigger_id", stored.ID,
			"trigger_slug", stored.Slug,
		)
	}
	return nil
}

// resynthesize refreshes the formula triggers of every active type whose
// formulas read the verb a relationship declares or its inverse. Their
// filters depend on the verb's inverse and linked types, both of which the
// relationship may have just changed.
func (w *Worker) resynthesize(ctx context.Context, actorID string, rel contract.Contract) error {
	touched := map[string]bool{rel.Name: true, w.verbs.Inverse(rel.Name): true}
	types, err := w.Types(ctx)
	if err != nil {
		return err
	}
	refs := make([]string, 0, len(types))
	for ref := range types {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	var errs []error
	for _, ref := range refs {
		typeSchema, _ := types[ref].Data["schema"].(map[string]any)
		verbs, err := formula.LinkVerbs(typeSchema)
		if err != nil {
			continue
		}
		if !slices.ContainsFunc(verbs, func(v string) bool { return touched[v] }) {
			continue
		}
		slog.Debug("relationship changed formula inputs",
			"relationship", rel.Slug,
			"type", ref,
			"verbs_version", w.verbs.Version(),
		)
		if err := w.synthesize(ctx, actorID, types[ref]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// react matches a committed mutation and dispatches the emissions by
// schedule. Enqueue failures are logged per emission.
func (w *Worker) react(ctx context.Context, actorID string, m engine.Mutation) error {
	emissions, err := w.engine.Evaluate(ctx, m, actorID)
	if err != nil {
		return fmt.Errorf("react to %s: %w", m.After.ID, err)
	}
	cascade, ok := engine.CascadeFrom(ctx)
	for _, e := range emissions {
		slog.Info("trigger fired",
			"trigger_id", e.Trigger.ID,
			"trigger_slug", e.Trigger.Slug,
			"schedule", e.Trigger.Schedule,
			"target_id", e.Request.Card,
			"originator", e.Request.Originator,
		)
		switch {
		case ok && e.Trigger.Schedule == contract.ScheduleSync:
			cascade.PushSync(e)
		case ok && e.Trigger.Schedule == contract.ScheduleAsync:
			cascade.Defer(e)
		default:
			w.enqueue(ctx, e)
		}
	}
	return nil
}

func (w *Worker) enqueue(ctx context.Context, e engine.Emission) {
	if _, err := w.producer.Enqueue(ctx, e.Request.Actor, e.Request, nil); err != nil {
		slog.Error("enqueue triggered request failed",
			"trigger_id", e.Trigger.ID,
			"target_id", e.Request.Card,
			"error", err,
		)
	}
}

// inCascade runs fn inside the cascade attached to ctx, or starts one and
// settles it when fn returns.
func (w *Worker) inCascade(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := engine.CascadeFrom(ctx); ok {
		return fn(ctx)
	}
	c := w.engine.NewCascade()
	ctx = engine.WithCascade(ctx, c)
	err := fn(ctx)
	w.settle(ctx, c)
	return err
}

// settle runs the pending sync emissions, including those they produce,
// then queues the deferred async ones.
func (w *Worker) settle(ctx context.Context, c *engine.Cascade) {
	for {
		e, ok := c.NextSync()
		if !ok {
			break
		}
		w.runSync(ctx, c, e)
	}
	for _, e := range c.Settle() {
		w.enqueue(ctx, e)
	}
	if c.Steps() > 0 {
		slog.Debug("cascade settled", "cascade", c.Token, "steps", c.Steps())
	}
}

func (w *Worker) runSync(ctx context.Context, c *engine.Cascade, e engine.Emission) {
	if err := c.Enter(e.Trigger.ID, e.Request.Card); err != nil {
		slog.Warn("sync trigger stopped",
			"trigger_id", e.Trigger.ID,
			"target_id", e.Request.Card,
			"error", err,
		)
		return
	}
	req, err := w.producer.Record(ctx, e.Request.Actor, e.Request)
	if err != nil {
		slog.Error("record sync request failed", "trigger_id", e.Trigger.ID, "error", err)
		return
	}
	res, err := w.execute(ctx, req)
	if err != nil {
		slog.Error("sync request failed", "trigger_id", e.Trigger.ID, "request_id", req.ID, "error", err)
		return
	}
	if res.Error {
		slog.Warn("sync action failed",
			"trigger_id", e.Trigger.ID,
			"request_id", req.ID,
			"error", res.Data,
		)
	}
}

// event builds an immutable create or update event for target.
func (w *Worker) event(typ, actorID, targetID string, now time.Time, payload any) contract.Contract {
	id := w.ids.Generate()
	slug := contract.MustParseTypeRef(typ).Slug
	return contract.Contract{
		ID:      id,
		Slug:    slug + "-" + contract.Slugify(id),
		Version: "1.0.0",
		Type:    typ,
		Active:  true,
		Tags:    []string{},
		Data: map[string]any{
			"actor":     actorID,
			"target":    targetID,
			"timestamp": contract.FormatTime(now),
			"payload":   contract.Normalize(payload),
		},
		CreatedAt: now,
	}
}

func attach(event, card contract.Contract) store.Edge {
	return store.Edge{
		LinkID:  event.ID,
		Verb:    contract.VerbIsAttachedTo,
		Inverse: contract.VerbHasAttachedElement,
		From:    event.ID,
		To:      card.ID,
	}
}

// sameContent compares everything a write can change.
func sameContent(a, b contract.Contract) bool {
	am, bm := a.Map(), b.Map()
	for _, k := range []string{"updated_at", "links", "created_at"} {
		delete(am, k)
		delete(bm, k)
	}
	return reflect.DeepEqual(am, bm)
}

// replaceOps renders a replace as patch operations on the changed fields.
func replaceOps(before, after contract.Contract) []any {
	bm, am := before.Map(), after.Map()
	ops := []any{}
	for _, k := range []string{"name", "active", "tags", "data"} {
		if reflect.DeepEqual(bm[k], am[k]) {
			continue
		}
		if _, ok := am[k]; !ok {
			ops = append(ops, map[string]any{"op": "remove", "path": "/" + k})
			continue
		}
		op := "replace"
		if _, ok := bm[k]; !ok {
			op = "add"
		}
		ops = append(ops, map[string]any{"op": op, "path": "/" + k, "value": am[k]})
	}
	return ops
}
