package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/store"
)

// Context is what an action handler sees. Its writes join the cascade of
// the request being executed, so triggers they match are dispatched like
// any other write.
type Context struct {
	w *Worker

	// Request is the action-request contract being executed.
	Request contract.Contract
	// Actor is the id the request runs on behalf of.
	Actor string
	// Originator is the request's provenance.
	Originator string
}

// Query returns the contracts matching a filter schema.
func (c *Context) Query(ctx context.Context, filter map[string]any) ([]contract.Contract, error) {
	return c.w.store.Query(ctx, filter, store.QueryOptions{})
}

// GetCardByID loads a contract. A missing one fails with WorkerNoElement.
func (c *Context) GetCardByID(ctx context.Context, id string) (contract.Contract, error) {
	card, err := c.w.store.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return contract.Contract{}, failure.Wrap(failure.WorkerNoElement, err, "no card %s", id)
	}
	return card, err
}

// GetCardBySlug loads a contract by slug@version.
func (c *Context) GetCardBySlug(ctx context.Context, ref string) (contract.Contract, error) {
	card, err := c.w.store.GetBySlug(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return contract.Contract{}, failure.Wrap(failure.WorkerNoElement, err, "no card %s", ref)
	}
	return card, err
}

// Type loads a type contract.
func (c *Context) Type(ctx context.Context, ref string) (contract.Contract, error) {
	return c.w.TypeCard(ctx, ref)
}

// Types returns every active type contract keyed by slug@version.
func (c *Context) Types(ctx context.Context) (map[string]contract.Contract, error) {
	return c.w.Types(ctx)
}

// InsertCard creates a contract of typeCard.
func (c *Context) InsertCard(ctx context.Context, typeCard, card contract.Contract) (contract.Contract, error) {
	return c.w.InsertCard(ctx, c.Actor, typeCard, card)
}

// PatchCard applies an RFC 6902 patch.
func (c *Context) PatchCard(ctx context.Context, card contract.Contract, patch []any) (contract.Contract, error) {
	return c.w.PatchCard(ctx, c.Actor, card, patch)
}

// ReplaceCard upserts a contract by slug@version.
func (c *Context) ReplaceCard(ctx context.Context, typeCard, card contract.Contract) (contract.Contract, error) {
	return c.w.ReplaceCard(ctx, c.Actor, typeCard, card)
}

// CreateLink links from to to by verb.
func (c *Context) CreateLink(ctx context.Context, verb string, from, to contract.Contract) (contract.Contract, error) {
	return c.w.CreateLink(ctx, c.Actor, verb, from, to)
}

// PrivilegedActor returns the admin actor id, for writes the requesting
// actor may not perform itself.
func (c *Context) PrivilegedActor(ctx context.Context) (string, error) {
	return c.w.Admin(ctx)
}

// EventSlug returns a fresh slug for an event of type slug typ.
func (c *Context) EventSlug(typ string) string {
	return c.w.EventSlug(typ)
}

// summary is the result payload of the built-in card actions.
func summary(card contract.Contract) map[string]any {
	return map[string]any{
		"id":      card.ID,
		"slug":    card.Slug,
		"type":    card.Type,
		"version": card.Version,
	}
}

func argString(args map[string]any, key string) (string, error) {
	s, ok := args[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}
