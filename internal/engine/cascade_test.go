package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
)

func TestCascade_EnterRejectsRepeatPair(t *testing.T) {
	c := NewCascade("c1", 10)

	require.NoError(t, c.Enter("trigger-a", "card-1"))
	require.NoError(t, c.Enter("trigger-a", "card-2"))

	err := c.Enter("trigger-a", "card-1")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.WorkerCascadeLimit))
	assert.Equal(t, 2, c.Steps(), "rejected entry is not counted")
}

func TestCascade_EnterEnforcesQuota(t *testing.T) {
	c := NewCascade("c1", 2)

	require.NoError(t, c.Enter("t1", "x"))
	require.NoError(t, c.Enter("t2", "x"))

	err := c.Enter("t3", "x")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.WorkerCascadeLimit))
	var limit *StepLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 2, limit.Limit)
}

func TestCascade_SyncAndDeferredOrder(t *testing.T) {
	c := NewCascade("c1", 10)
	emission := func(card string) Emission {
		return Emission{Request: contract.ActionRequest{Card: card}}
	}

	c.PushSync(emission("s1"))
	c.Defer(emission("a1"))
	c.PushSync(emission("s2"))
	c.Defer(emission("a2"))

	first, ok := c.NextSync()
	require.True(t, ok)
	assert.Equal(t, "s1", first.Request.Card)
	second, ok := c.NextSync()
	require.True(t, ok)
	assert.Equal(t, "s2", second.Request.Card)
	_, ok = c.NextSync()
	assert.False(t, ok)

	deferred := c.Settle()
	require.Len(t, deferred, 2)
	assert.Equal(t, "a1", deferred[0].Request.Card)
	assert.Equal(t, "a2", deferred[1].Request.Card)

	c.Defer(emission("late"))
	assert.Empty(t, c.Settle(), "settled cascade accepts nothing")
}

func TestCascade_Context(t *testing.T) {
	ctx := context.Background()
	_, ok := CascadeFrom(ctx)
	assert.False(t, ok)

	c := NewCascade("c1", 1)
	got, ok := CascadeFrom(WithCascade(ctx, c))
	require.True(t, ok)
	assert.Same(t, c, got)
}
