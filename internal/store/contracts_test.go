package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
)

func TestInsert_GetByID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := createTestContract("id-1", "card-1", "card@1.0.0", map[string]any{
		"title": "hello",
		"n":     3,
	})
	c.Tags = []string{"a", "b"}
	c.Name = "Card one"
	require.NoError(t, s.Insert(ctx, c))

	got, err := s.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "card-1", got.Slug)
	assert.Equal(t, "Card one", got.Name)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
	assert.Equal(t, "hello", got.Data["title"])
	assert.Equal(t, float64(3), got.Data["n"])
	assert.True(t, got.Active)
	assert.True(t, got.CreatedAt.Equal(testEpoch))
	assert.Nil(t, got.UpdatedAt)
}

func TestInsert_Conflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, createTestContract("id-1", "card-1", "card@1.0.0", nil)))

	err := s.Insert(ctx, createTestContract("id-1", "card-2", "card@1.0.0", nil))
	assert.ErrorIs(t, err, ErrConflict, "duplicate id")

	err = s.Insert(ctx, createTestContract("id-2", "card-1", "card@1.0.0", nil))
	assert.ErrorIs(t, err, ErrConflict, "duplicate slug@version")
}

func TestInsert_RequiresIdentity(t *testing.T) {
	s := createTestStore(t)
	err := s.Insert(context.Background(), contract.Contract{Slug: "x"})
	assert.Error(t, err)
}

func TestApply_IsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, createTestContract("id-1", "card-1", "card@1.0.0", nil)))

	err := s.Apply(ctx, Write{Inserts: []contract.Contract{
		createTestContract("id-2", "card-2", "card@1.0.0", nil),
		createTestContract("id-3", "card-1", "card@1.0.0", nil),
	}})
	require.ErrorIs(t, err, ErrConflict)

	_, err = s.GetByID(ctx, "id-2")
	assert.ErrorIs(t, err, ErrNotFound, "first insert of failed batch rolled back")
}

func TestUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := createTestContract("id-1", "card-1", "card@1.0.0", map[string]any{"v": 1})
	require.NoError(t, s.Insert(ctx, c))

	now := testEpoch.Add(time.Hour)
	c.Data["v"] = 2
	c.Active = false
	c.UpdatedAt = &now
	require.NoError(t, s.Update(ctx, c))

	got, err := s.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got.Data["v"])
	assert.False(t, got.Active)
	require.NotNil(t, got.UpdatedAt)
	assert.True(t, got.UpdatedAt.Equal(now))

	err = s.Update(ctx, createTestContract("missing", "m", "card@1.0.0", nil))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsert_KeepsIdentity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, createTestContract("id-1", "trigger-x", "triggered-action@1.0.0", map[string]any{"n": 1}))
	require.NoError(t, err)

	second, err := s.Upsert(ctx, createTestContract("id-other", "trigger-x", "triggered-action@1.0.0", map[string]any{"n": 2}))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := s.Query(ctx, map[string]any{
		"properties": map[string]any{"slug": map[string]any{"const": "trigger-x"}},
	}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, float64(2), all[0].Data["n"])
}

func TestGetBySlug_Versions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, v := range []string{"1.0.0", "1.10.0", "1.2.0"} {
		c := createTestContract("id-"+v, "foo", "type@1.0.0", map[string]any{"i": i})
		c.Version = v
		require.NoError(t, s.Insert(ctx, c))
	}

	got, err := s.GetBySlug(ctx, "foo@1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", got.Version)

	got, err = s.GetBySlug(ctx, "foo@latest")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", got.Version)

	got, err = s.GetBySlug(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", got.Version)

	_, err = s.GetBySlug(ctx, "foo@9.0.0")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetBySlug(ctx, "bar")
	assert.ErrorIs(t, err, ErrNotFound)
}
