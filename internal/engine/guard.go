package engine

import "fmt"

// DefaultMaxSteps bounds the number of inline executions in one cascade.
const DefaultMaxSteps = 100

// firing is one inline execution: a trigger acting on a target card.
type firing struct {
	trigger string
	target  string
}

// guard admits the inline executions of a single cascade. A firing may
// be admitted once, and at most limit firings in total. It is owned by
// the goroutine settling the cascade.
type guard struct {
	limit int
	fired map[firing]struct{}
}

func newGuard(limit int) *guard {
	return &guard{limit: limit, fired: make(map[firing]struct{})}
}

// admit records f, or explains why it may not run.
func (g *guard) admit(f firing) error {
	if _, ok := g.fired[f]; ok {
		return fmt.Errorf("trigger %s would fire twice on %s", f.trigger, f.target)
	}
	if len(g.fired) >= g.limit {
		return &StepLimitError{Limit: g.limit, Trigger: f.trigger, Target: f.target}
	}
	g.fired[f] = struct{}{}
	return nil
}

func (g *guard) steps() int {
	return len(g.fired)
}

// StepLimitError reports the firing refused because its cascade already
// ran Limit inline executions.
type StepLimitError struct {
	Limit   int
	Trigger string
	Target  string
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("step limit %d reached before trigger %s on %s", e.Limit, e.Trigger, e.Target)
}
