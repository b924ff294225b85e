package engine

import "github.com/roach88/contractworker/internal/contract"

// Mutation is one committed change to a contract.
type Mutation struct {
	// Before is nil for an insert.
	Before *contract.Contract
	After  contract.Contract

	// EventID is the id of the create, update or link event that recorded
	// the change. It becomes the originator of emitted requests.
	EventID string
}

// IsInsert reports whether the mutation created the contract.
func (m Mutation) IsInsert() bool {
	return m.Before == nil
}

// Match reports whether t fires for m.
//
// The filter is checked against the after-state and, for an update, the
// before-state on its own: either match fires the trigger, so a contract
// leaving a filter is seen as well as one entering it. Both states must
// carry links for every verb the filter constrains. Insert-mode triggers
// never fire on updates, periodic triggers never fire on mutations, and a
// trigger never fires on a change to itself.
func Match(t *Trigger, m Mutation) bool {
	if t.Periodic() || t.Filter == nil {
		return false
	}
	if t.ID == m.After.ID {
		return false
	}
	if t.Mode == contract.ModeInsert && !m.IsInsert() {
		return false
	}
	if t.Filter.MatchContract(m.After) {
		return true
	}
	return m.Before != nil && t.Filter.MatchContract(*m.Before)
}
