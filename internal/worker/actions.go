package worker

import (
	"context"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
)

func builtinActions() []Action {
	return []Action{
		{
			Ref: contract.ActionCreateCard,
			Arguments: map[string]any{
				"type":     "object",
				"required": []any{"properties"},
				"properties": map[string]any{
					"properties": map[string]any{"type": "object"},
				},
			},
			Filter: map[string]any{
				"type":     "object",
				"required": []any{"type"},
				"properties": map[string]any{
					"type": map[string]any{"const": contract.TypeType},
				},
			},
			Handler: createCard,
		},
		{
			Ref: contract.ActionUpdateCard,
			Arguments: map[string]any{
				"type":     "object",
				"required": []any{"patch"},
				"properties": map[string]any{
					"patch": map[string]any{"type": "array"},
				},
			},
			Handler: updateCard,
		},
		{
			Ref:       contract.ActionDeleteCard,
			Arguments: map[string]any{"type": "object"},
			Handler:   deleteCard,
		},
		{
			Ref: contract.ActionCreateLink,
			Arguments: map[string]any{
				"type":     "object",
				"required": []any{"verb", "to"},
				"properties": map[string]any{
					"verb": map[string]any{"type": "string", "minLength": 1},
					"to":   map[string]any{"type": "string", "minLength": 1},
				},
			},
			Handler: createLink,
		},
	}
}

// createCard inserts args.properties as a new contract of the target type.
func createCard(ctx context.Context, hc *Context, typeCard contract.Contract, args map[string]any) (any, error) {
	props, _ := args["properties"].(map[string]any)
	card, err := contract.FromMap(props)
	if err != nil {
		return nil, failure.Wrap(failure.WorkerSchemaMismatch, err, "properties")
	}
	if _, ok := props["active"]; !ok {
		card.Active = true
	}
	card.ID = ""
	card.Links = nil

	inserted, err := hc.InsertCard(ctx, typeCard, card)
	if err != nil {
		return nil, err
	}
	return summary(inserted), nil
}

// updateCard applies args.patch. An empty patch only recomputes formulas.
func updateCard(ctx context.Context, hc *Context, card contract.Contract, args map[string]any) (any, error) {
	patch, _ := args["patch"].([]any)
	updated, err := hc.PatchCard(ctx, card, patch)
	if err != nil {
		return nil, err
	}
	return summary(updated), nil
}

// deleteCard soft-deletes the target. Deleting twice is a no-op.
func deleteCard(ctx context.Context, hc *Context, card contract.Contract, _ map[string]any) (any, error) {
	if !card.Active {
		return summary(card), nil
	}
	updated, err := hc.PatchCard(ctx, card, []any{
		map[string]any{"op": "replace", "path": "/active", "value": false},
	})
	if err != nil {
		return nil, err
	}
	return summary(updated), nil
}

// createLink links the target to args.to by args.verb.
func createLink(ctx context.Context, hc *Context, from contract.Contract, args map[string]any) (any, error) {
	verb, err := argString(args, "verb")
	if err != nil {
		return nil, failure.Wrap(failure.WorkerSchemaMismatch, err, "create link")
	}
	toID, err := argString(args, "to")
	if err != nil {
		return nil, failure.Wrap(failure.WorkerSchemaMismatch, err, "create link")
	}
	to, err := hc.GetCardByID(ctx, toID)
	if err != nil {
		return nil, err
	}
	link, err := hc.CreateLink(ctx, verb, from, to)
	if err != nil {
		return nil, err
	}
	return summary(link), nil
}
