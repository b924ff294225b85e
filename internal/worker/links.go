package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/store"
)

// CreateLink links from to to by verb and records it as a link contract.
//
// Both endpoints are re-matched afterwards, as updates originated by the
// link, so triggers and formula triggers that read links see the new
// edge. Linking an already linked pair returns the existing link.
func (w *Worker) CreateLink(ctx context.Context, actorID, verb string, from, to contract.Contract) (contract.Contract, error) {
	var out contract.Contract
	err := w.inCascade(ctx, func(ctx context.Context) error {
		var err error
		out, err = w.link(ctx, actorID, verb, from, to)
		return err
	})
	return out, err
}

func (w *Worker) link(ctx context.Context, actorID, verb string, from, to contract.Contract) (contract.Contract, error) {
	if verb == "" {
		return contract.Contract{}, failure.New(failure.WorkerSchemaMismatch, "link verb is required")
	}
	if !w.verbs.Allows(verb, from.Type, to.Type) {
		return contract.Contract{}, failure.New(failure.WorkerSchemaMismatch,
			"%q cannot link %s to %s", verb, from.Type, to.Type)
	}

	linked, err := w.store.LinkedIDs(ctx, from.ID, verb)
	if err != nil {
		return contract.Contract{}, err
	}
	if slices.Contains(linked, to.ID) {
		existing, err := w.store.Query(ctx, linkFilter(verb, from.ID, to.ID), store.QueryOptions{Limit: 1})
		if err != nil {
			return contract.Contract{}, err
		}
		if len(existing) > 0 {
			slog.Debug("already linked", "verb", verb, "from_id", from.ID, "to_id", to.ID)
			return existing[0], nil
		}
	}

	inverse := w.verbs.Inverse(verb)
	now := w.now().UTC()
	id := w.ids.Generate()
	data, err := contract.Encode(contract.LinkData{
		InverseName: inverse,
		From:        contract.Endpoint{ID: from.ID, Type: from.Type},
		To:          contract.Endpoint{ID: to.ID, Type: to.Type},
	})
	if err != nil {
		return contract.Contract{}, err
	}
	link := contract.Contract{
		ID:        id,
		Slug:      "link-" + contract.Slugify(id),
		Version:   "1.0.0",
		Type:      contract.TypeLink,
		Name:      verb,
		Active:    true,
		Tags:      []string{},
		Data:      data,
		CreatedAt: now,
	}
	err = w.store.Apply(ctx, store.Write{
		Inserts: []contract.Contract{link},
		Edges: []store.Edge{{
			LinkID:  id,
			Verb:    verb,
			Inverse: inverse,
			From:    from.ID,
			To:      to.ID,
		}},
	})
	if err != nil {
		return contract.Contract{}, fmt.Errorf("link %s %q %s: %w", from.ID, verb, to.ID, err)
	}
	slog.Info("link created",
		"link_id", id,
		"verb", verb,
		"from_id", from.ID,
		"to_id", to.ID,
	)

	if err := w.react(ctx, actorID, engine.Mutation{After: link, EventID: id}); err != nil {
		return link, err
	}
	for _, endpoint := range []string{from.ID, to.ID} {
		fresh, err := w.store.GetByID(ctx, endpoint)
		if err != nil {
			return link, err
		}
		before := fresh.Clone()
		if err := w.react(ctx, actorID, engine.Mutation{Before: &before, After: fresh, EventID: id}); err != nil {
			return link, err
		}
	}
	return link, nil
}

func linkFilter(verb, fromID, toID string) map[string]any {
	endpoint := func(id string) map[string]any {
		return map[string]any{
			"type":       "object",
			"required":   []any{"id"},
			"properties": map[string]any{"id": map[string]any{"const": id}},
		}
	}
	return map[string]any{
		"type":     "object",
		"required": []any{"type", "name", "data"},
		"properties": map[string]any{
			"type": map[string]any{"const": contract.TypeLink},
			"name": map[string]any{"const": verb},
			"data": map[string]any{
				"type":     "object",
				"required": []any{"from", "to"},
				"properties": map[string]any{
					"from": endpoint(fromID),
					"to":   endpoint(toID),
				},
			},
		},
	}
}
