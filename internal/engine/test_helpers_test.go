package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/schema"
	"github.com/roach88/contractworker/internal/store"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new on-disk store in a temp directory.
func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEngine creates an engine over a fresh store with a fixed wall
// clock.
func createTestEngine(t *testing.T, opts ...Option) (*Engine, *store.Store) {
	t.Helper()
	s := createTestStore(t)
	opts = append([]Option{WithNow(func() time.Time { return testEpoch })}, opts...)
	return New(s, s.Schemas(), opts...), s
}

func testContract(id, typ string, data map[string]any) contract.Contract {
	if data == nil {
		data = map[string]any{}
	}
	return contract.Contract{
		ID:        id,
		Slug:      id,
		Version:   "1.0.0",
		Type:      typ,
		Active:    true,
		Tags:      []string{},
		Data:      data,
		CreatedAt: testEpoch,
	}
}

func triggerContract(id string, data contract.TriggeredAction) contract.Contract {
	return testContract(id, contract.TypeTriggeredAction, contract.MustEncode(data))
}

func typeFilter(ref string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"type"},
		"properties": map[string]any{
			"type": map[string]any{"const": ref},
		},
	}
}

func mustCompileTrigger(t *testing.T, c contract.Contract) *Trigger {
	t.Helper()
	tr, err := CompileTrigger(c, schema.NewCache())
	require.NoError(t, err)
	return tr
}

func insertAll(t *testing.T, s *store.Store, cs ...contract.Contract) {
	t.Helper()
	for _, c := range cs {
		require.NoError(t, s.Insert(context.Background(), c))
	}
}
