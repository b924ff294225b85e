package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/store"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestProducer(t *testing.T, ids ...string) (*Producer, *store.Store) {
	t.Helper()
	s := createTestStore(t)
	p := NewProducer(s, s,
		WithIDGenerator(engine.NewFixedGenerator(ids...)),
		WithNow(func() time.Time { return testNow }),
	)
	return p, s
}

func testRequest() contract.ActionRequest {
	return contract.ActionRequest{
		Action:    contract.ActionUpdateCard,
		Card:      "card-1",
		Type:      "card@1.0.0",
		Arguments: map[string]any{"patch": []any{}},
	}
}
