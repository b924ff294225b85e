package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
)

func TestInstall_Idempotent(t *testing.T) {
	env := createTestEnv(t)
	ctx := context.Background()

	defs := []contract.Contract{
		{Slug: "foo", Version: "1.0.0", Type: contract.TypeType, Name: "Foo", Active: true, Tags: []string{}, Data: map[string]any{"schema": objectSchema()}},
		{Slug: "triggered-action-touch", Version: "1.0.0", Type: contract.TypeTriggeredAction, Active: true, Tags: []string{}, Data: contract.MustEncode(contract.TriggeredAction{
			Filter:    typeFilter("foo@1.0.0"),
			Action:    contract.ActionUpdateCard,
			Target:    map[string]any{"$eval": "source.id"},
			Arguments: map[string]any{"patch": []any{}},
		})},
	}

	first, err := env.w.Install(ctx, env.admin, defs...)
	require.NoError(t, err)
	require.Len(t, first, 2)
	updates := env.count(t, contract.TypeUpdate)

	second, err := env.w.Install(ctx, env.admin, defs...)
	require.NoError(t, err)
	assert.Equal(t, first[1].ID, second[1].ID)
	assert.Equal(t, updates, env.count(t, contract.TypeUpdate), "reinstalling writes nothing")

	_, ok := env.w.Engine().Index().Get(first[1].ID)
	assert.True(t, ok, "installed triggers are indexed")
}

func TestInstall_UnknownType(t *testing.T) {
	env := createTestEnv(t)
	_, err := env.w.Install(context.Background(), env.admin, contract.Contract{Slug: "x", Type: "missing@1.0.0"})
	assert.True(t, failure.Is(err, failure.WorkerNoElement))
}
