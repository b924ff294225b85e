package engine

import (
	"sort"
	"sync"
)

// TriggerIndex holds the compiled active triggers, bucketed by subject
// type. It is safe for concurrent use; every change bumps Version.
type TriggerIndex struct {
	mu       sync.RWMutex
	byID     map[string]*Trigger
	byType   map[string]map[string]*Trigger
	wildcard map[string]*Trigger
	periodic map[string]*Trigger
	version  uint64
}

// NewTriggerIndex creates an empty index.
func NewTriggerIndex() *TriggerIndex {
	return &TriggerIndex{
		byID:     make(map[string]*Trigger),
		byType:   make(map[string]map[string]*Trigger),
		wildcard: make(map[string]*Trigger),
		periodic: make(map[string]*Trigger),
	}
}

// Insert adds t, replacing any trigger with the same id.
func (x *TriggerIndex) Insert(t *Trigger) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(t.ID)
	x.insertLocked(t)
	x.version++
}

// Remove drops the trigger with the given id. It reports whether one existed.
func (x *TriggerIndex) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.removeLocked(id) {
		return false
	}
	x.version++
	return true
}

// Set replaces the whole index with ts.
func (x *TriggerIndex) Set(ts []*Trigger) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.byID = make(map[string]*Trigger, len(ts))
	x.byType = make(map[string]map[string]*Trigger)
	x.wildcard = make(map[string]*Trigger)
	x.periodic = make(map[string]*Trigger)
	for _, t := range ts {
		x.insertLocked(t)
	}
	x.version++
}

func (x *TriggerIndex) insertLocked(t *Trigger) {
	x.byID[t.ID] = t
	switch {
	case t.Periodic():
		x.periodic[t.ID] = t
	case t.Subjects == nil:
		x.wildcard[t.ID] = t
	default:
		for _, typ := range t.Subjects {
			bucket := x.byType[typ]
			if bucket == nil {
				bucket = make(map[string]*Trigger)
				x.byType[typ] = bucket
			}
			bucket[t.ID] = t
		}
	}
}

func (x *TriggerIndex) removeLocked(id string) bool {
	t, ok := x.byID[id]
	if !ok {
		return false
	}
	delete(x.byID, id)
	delete(x.wildcard, id)
	delete(x.periodic, id)
	for _, typ := range t.Subjects {
		if bucket := x.byType[typ]; bucket != nil {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(x.byType, typ)
			}
		}
	}
	return true
}

// MatchesFor returns the mutation triggers whose filter can admit a
// contract of type typ, ordered by slug then id.
func (x *TriggerIndex) MatchesFor(typ string) []*Trigger {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]*Trigger, 0, len(x.byType[typ])+len(x.wildcard))
	for _, t := range x.byType[typ] {
		out = append(out, t)
	}
	for _, t := range x.wildcard {
		out = append(out, t)
	}
	sortTriggers(out)
	return out
}

// Periodic returns the interval triggers, ordered by slug then id.
func (x *TriggerIndex) Periodic() []*Trigger {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]*Trigger, 0, len(x.periodic))
	for _, t := range x.periodic {
		out = append(out, t)
	}
	sortTriggers(out)
	return out
}

// Get returns the trigger with the given id.
func (x *TriggerIndex) Get(id string) (*Trigger, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	t, ok := x.byID[id]
	return t, ok
}

// Len returns the number of indexed triggers.
func (x *TriggerIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

// Version increases on every change.
func (x *TriggerIndex) Version() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.version
}

func sortTriggers(ts []*Trigger) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Slug != ts[j].Slug {
			return ts[i].Slug < ts[j].Slug
		}
		return ts[i].ID < ts[j].ID
	})
}
