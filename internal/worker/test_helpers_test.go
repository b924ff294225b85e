package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/queue"
	"github.com/roach88/contractworker/internal/store"
	"github.com/roach88/contractworker/internal/testutil"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testEnv is a bootstrapped worker over a fresh store.
type testEnv struct {
	w        *Worker
	store    *store.Store
	producer *queue.Producer
	consumer *queue.Consumer
	clock    *testutil.FakeClock
	admin    string
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	s := createTestStore(t)
	clock := testutil.NewFakeClock(testNow)
	ids := testutil.NewSequenceGenerator("id")

	eng := engine.New(s, s.Schemas(), engine.WithNow(clock.Now), engine.WithIDGenerator(ids))
	producer := queue.NewProducer(s, s, queue.WithIDGenerator(ids), queue.WithNow(clock.Now))
	opts = append([]Option{WithIDGenerator(ids), WithNow(clock.Now)}, opts...)
	w := New(s, eng, producer, opts...)

	ctx := context.Background()
	require.NoError(t, w.Bootstrap(ctx))
	admin, err := w.Admin(ctx)
	require.NoError(t, err)

	consumer := queue.NewConsumer(s, queue.Options{
		WorkerID:     "test-worker",
		PollInterval: 10 * time.Millisecond,
		Retries:      1,
		RetryDelay:   time.Millisecond,
	})
	consumer.SetNow(clock.Now)

	return &testEnv{w: w, store: s, producer: producer, consumer: consumer, clock: clock, admin: admin}
}

// drain runs every due job through the worker.
func (e *testEnv) drain(t *testing.T) int {
	t.Helper()
	n, err := e.consumer.Drain(context.Background(), e.w.Handle, 0)
	require.NoError(t, err)
	return n
}

func (e *testEnv) typeCard(t *testing.T, ref string) contract.Contract {
	t.Helper()
	c, err := e.w.TypeCard(context.Background(), ref)
	require.NoError(t, err)
	return c
}

// insertType creates a type contract with the given schema.
func (e *testEnv) insertType(t *testing.T, slug string, s map[string]any) contract.Contract {
	t.Helper()
	c, err := e.w.InsertCard(context.Background(), e.admin, e.typeCard(t, contract.TypeType), contract.Contract{
		Slug:   slug,
		Name:   slug,
		Active: true,
		Data:   map[string]any{"schema": s},
	})
	require.NoError(t, err)
	return c
}

// insert creates a contract of type ref with data.
func (e *testEnv) insert(t *testing.T, ref string, data map[string]any) contract.Contract {
	t.Helper()
	c, err := e.w.InsertCard(context.Background(), e.admin, e.typeCard(t, ref), contract.Contract{
		Active: true,
		Data:   data,
	})
	require.NoError(t, err)
	return c
}

func (e *testEnv) insertTrigger(t *testing.T, data contract.TriggeredAction) contract.Contract {
	t.Helper()
	return e.insert(t, contract.TypeTriggeredAction, contract.MustEncode(data))
}

func (e *testEnv) get(t *testing.T, id string) contract.Contract {
	t.Helper()
	c, err := e.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (e *testEnv) jobs(t *testing.T) []store.Job {
	t.Helper()
	jobs, err := e.store.ListJobs(context.Background())
	require.NoError(t, err)
	return jobs
}

func (e *testEnv) count(t *testing.T, typ string) int {
	t.Helper()
	cs, err := e.store.Query(context.Background(), typeFilter(typ), store.QueryOptions{})
	require.NoError(t, err)
	return len(cs)
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

func objectSchema() map[string]any {
	return map[string]any{"type": "object"}
}

// counter is a registry holding the built-ins plus action-count@1.0.0,
// which records every card it runs on.
type counter struct {
	calls []string
}

func (c *counter) registry(t *testing.T) *Registry {
	t.Helper()
	r := DefaultRegistry()
	require.NoError(t, r.Register(Action{
		Ref: "action-count@1.0.0",
		Handler: func(_ context.Context, _ *Context, card contract.Contract, _ map[string]any) (any, error) {
			c.calls = append(c.calls, card.ID)
			return map[string]any{"count": len(c.calls)}, nil
		},
	}))
	return r
}
