package engine

import (
	"context"
	"sync"

	"github.com/roach88/contractworker/internal/failure"
)

// Cascade is the state of one outer mutation and every sync execution it
// triggers inline.
//
// Sync emissions are pushed in FIFO order and drained by the caller one at
// a time; async emissions are held until the cascade settles.
type Cascade struct {
	Token string

	guard *guard

	sync     *emissionQueue
	deferred *emissionQueue
}

// NewCascade creates a cascade allowing maxSteps inline executions.
func NewCascade(token string, maxSteps int) *Cascade {
	return &Cascade{
		Token:    token,
		guard:    newGuard(maxSteps),
		sync:     newEmissionQueue(),
		deferred: newEmissionQueue(),
	}
}

type cascadeKey struct{}

// WithCascade attaches c to ctx. Writes made under ctx join c.
func WithCascade(ctx context.Context, c *Cascade) context.Context {
	return context.WithValue(ctx, cascadeKey{}, c)
}

// CascadeFrom returns the cascade attached to ctx, if any.
func CascadeFrom(ctx context.Context) (*Cascade, bool) {
	c, ok := ctx.Value(cascadeKey{}).(*Cascade)
	return c, ok
}

// Enter admits one inline execution of trigger on target. It fails with
// WorkerCascadeLimit when the pair already fired in this cascade or the
// step quota is exhausted.
func (c *Cascade) Enter(triggerID, targetID string) error {
	if err := c.guard.admit(firing{trigger: triggerID, target: targetID}); err != nil {
		return failure.Wrap(failure.WorkerCascadeLimit, err, "sync cascade stopped").
			With("cascade", c.Token).
			With("trigger", triggerID)
	}
	return nil
}

// Steps returns the number of inline executions admitted so far.
func (c *Cascade) Steps() int {
	return c.guard.steps()
}

// PushSync queues a sync emission for inline execution.
func (c *Cascade) PushSync(e Emission) {
	c.sync.Enqueue(e)
}

// NextSync pops the oldest pending sync emission.
func (c *Cascade) NextSync() (Emission, bool) {
	return c.sync.TryDequeue()
}

// Defer holds an async emission until the cascade settles.
func (c *Cascade) Defer(e Emission) {
	c.deferred.Enqueue(e)
}

// Settle closes the cascade and returns the deferred async emissions in
// the order they were produced.
func (c *Cascade) Settle() []Emission {
	c.sync.Close()
	c.deferred.Close()

	var out []Emission
	for {
		e, ok := c.deferred.TryDequeue()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

// emissionQueue is an unbounded FIFO of emissions. Enqueue after Close is
// dropped and reported.
type emissionQueue struct {
	mu     sync.Mutex
	items  []Emission
	closed bool
}

func newEmissionQueue() *emissionQueue {
	return &emissionQueue{items: make([]Emission, 0, 8)}
}

func (q *emissionQueue) Enqueue(e Emission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, e)
	return true
}

func (q *emissionQueue) TryDequeue() (Emission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Emission{}, false
	}
	e := q.items[0]
	// release the slot so the trigger and arguments can be collected
	q.items[0] = Emission{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return e, true
}

func (q *emissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *emissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
