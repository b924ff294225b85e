package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/contractworker/internal/contract"
)

// Install upserts definitions by slug@version, each through the write
// path of its type, in the order given. Definitions that match what is
// stored write nothing.
func (w *Worker) Install(ctx context.Context, actorID string, defs ...contract.Contract) ([]contract.Contract, error) {
	out := make([]contract.Contract, 0, len(defs))
	for _, def := range defs {
		typeCard, err := w.TypeCard(ctx, def.Type)
		if err != nil {
			return out, fmt.Errorf("install %s: %w", def.Ref(), err)
		}
		stored, err := w.ReplaceCard(ctx, actorID, typeCard, def)
		if err != nil {
			return out, fmt.Errorf("install %s: %w", def.Ref(), err)
		}
		slog.Debug("definition installed", "slug", stored.Slug, "type", stored.Type, "card_id", stored.ID)
		out = append(out, stored)
	}
	return out, nil
}
