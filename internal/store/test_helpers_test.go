package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/contractworker/internal/contract"
)

// createTestStore creates a new on-disk store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestContract creates an active contract with minimal fields.
func createTestContract(id, slug, typ string, data map[string]any) contract.Contract {
	if data == nil {
		data = map[string]any{}
	}
	return contract.Contract{
		ID:        id,
		Slug:      slug,
		Version:   "1.0.0",
		Type:      typ,
		Active:    true,
		Tags:      []string{},
		Data:      data,
		CreatedAt: testEpoch,
	}
}
