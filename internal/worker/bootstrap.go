package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/store"
)

// dataSchema is a type schema requiring the given data properties.
func dataSchema(required ...string) map[string]any {
	data := map[string]any{"type": "object"}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		data["required"] = req
	}
	return map[string]any{
		"type":     "object",
		"required": []any{"data"},
		"properties": map[string]any{
			"data": data,
		},
	}
}

// builtinTypes are the type contracts every store needs.
func builtinTypes() []contract.Contract {
	def := func(slug, name string, s map[string]any) contract.Contract {
		return contract.Contract{
			Slug:    slug,
			Version: "1.0.0",
			Type:    contract.TypeType,
			Name:    name,
			Active:  true,
			Tags:    []string{},
			Data:    map[string]any{"schema": s},
		}
	}

	relationship := dataSchema("inverseName")
	relationship["required"] = []any{"data", "name"}

	return []contract.Contract{
		def("type", "Type", dataSchema("schema")),
		def("user", "User", dataSchema()),
		def("card", "Card", dataSchema()),
		def("action-request", "Action request", dataSchema("action", "card", "type", "actor")),
		def("execute", "Execute event", dataSchema("actor", "target", "payload")),
		def("create", "Create event", dataSchema("actor", "target")),
		def("update", "Update event", dataSchema("actor", "target")),
		def("link", "Link", dataSchema("inverseName", "from", "to")),
		def("triggered-action", "Triggered action", dataSchema("action", "target")),
		def("scheduled-action", "Scheduled action", dataSchema("options", "schedule")),
		def("relationship", "Relationship", relationship),
	}
}

// Bootstrap inserts the built-in types and the admin actor, then loads
// relationships and triggers. Contracts that already exist are left
// alone, so it is safe on every start.
func (w *Worker) Bootstrap(ctx context.Context) error {
	now := w.now().UTC()
	admin := contract.Contract{
		Slug:    AdminSlug,
		Version: "1.0.0",
		Type:    contract.TypeUser,
		Name:    "Admin",
		Active:  true,
		Tags:    []string{},
		Data:    map[string]any{"role": "admin"},
	}

	created := 0
	for _, c := range append(builtinTypes(), admin) {
		_, err := w.store.GetBySlug(ctx, c.Ref())
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("bootstrap: %w", err)
		}
		c.ID = w.ids.Generate()
		c.CreatedAt = now
		if err := w.store.Insert(ctx, c); err != nil {
			return fmt.Errorf("bootstrap %s: %w", c.Ref(), err)
		}
		created++
	}
	slog.Info("bootstrap complete", "created", created)

	return w.Load(ctx)
}
