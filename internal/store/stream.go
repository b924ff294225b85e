package store

import (
	"sync"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/schema"
)

// Change is a committed insert (Before nil) or update.
type Change struct {
	Before *contract.Contract
	After  contract.Contract
}

// streamBuffer bounds how far a subscriber may fall behind before changes
// are dropped for it.
const streamBuffer = 256

// Subscription receives committed changes whose after-state matches its
// filter. C is closed by Close or when the store closes.
type Subscription struct {
	C <-chan Change

	ch     chan Change
	filter *schema.Schema
	store  *Store
	once   sync.Once
}

// Stream subscribes to committed changes. A nil filter receives every change.
// The filter sees the after-state without links.
func (s *Store) Stream(filter *schema.Schema) *Subscription {
	ch := make(chan Change, streamBuffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, store: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.closeLocked()
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Close unsubscribes and closes C. Safe to call more than once.
func (sub *Subscription) Close() {
	sub.store.mu.Lock()
	delete(sub.store.subs, sub)
	sub.closeLocked()
	sub.store.mu.Unlock()
}

func (sub *Subscription) closeLocked() {
	sub.once.Do(func() { close(sub.ch) })
}

func (s *Store) publish(ch Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs {
		if sub.filter != nil && !sub.filter.Matches(ch.After.Map()) {
			continue
		}
		select {
		case sub.ch <- ch:
		default:
			// subscriber is behind; drop rather than block the writer
		}
	}
}
