package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s on %s", event.Seq, event.Action, event.Card)
		if event.Error != "" {
			fmt.Fprintf(&buf, " (%s)", event.Error)
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// assertTraceContains checks that some execution matches the action and,
// when given, the card and failure name.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Action != ref(a.Action) {
			continue
		}
		if a.Card != "" && event.Card != strings.TrimSuffix(a.Card, "@1.0.0") {
			continue
		}
		if a.Error != "" && event.Error != a.Error {
			continue
		}
		return nil
	}

	expected := "execution of " + a.Action
	if a.Card != "" {
		expected += " on " + a.Card
	}
	if a.Error != "" {
		expected += " failing with " + a.Error
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that actions first execute in the given order.
// Intervening executions are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Action]; !seen {
			positions[event.Action] = i + 1
		}
	}

	for _, action := range a.Actions {
		if positions[ref(action)] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Actions); i++ {
		prev, curr := ref(a.Actions[i-1]), ref(a.Actions[i])
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that action executed exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action == ref(a.Action) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d executions of %s", *a.Count, a.Action),
			Actual:   fmt.Sprintf("%d executions", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertCard checks a card's active flag and that its data contains
// a.Data.
func assertCard(ctx context.Context, h *Harness, a Assertion) error {
	card, err := h.Card(ctx, a.Card)
	if err != nil {
		return fmt.Errorf("card %s: %w", a.Card, err)
	}
	if a.Active != nil && card.Active != *a.Active {
		return &AssertionError{
			Type:     AssertCard,
			Expected: fmt.Sprintf("%s active=%t", a.Card, *a.Active),
			Actual:   fmt.Sprintf("active=%t", card.Active),
		}
	}
	if a.Data != nil {
		expected, _ := contract.Normalize(a.Data).(map[string]any)
		if !matchSubset(card.Data, expected) {
			return &AssertionError{
				Type:     AssertCard,
				Expected: fmt.Sprintf("%s data containing %v", a.Card, expected),
				Actual:   fmt.Sprintf("%v", card.Data),
			}
		}
	}
	return nil
}

// assertContracts counts the active contracts of type a.Of.
func assertContracts(ctx context.Context, h *Harness, a Assertion) error {
	found, err := h.store.Query(ctx, map[string]any{
		"type":     "object",
		"required": []any{"type", "active"},
		"properties": map[string]any{
			"type":   map[string]any{"const": ref(a.Of)},
			"active": map[string]any{"const": true},
		},
	}, store.QueryOptions{})
	if err != nil {
		return fmt.Errorf("contracts of %s: %w", a.Of, err)
	}
	if len(found) != *a.Count {
		return &AssertionError{
			Type:     AssertContracts,
			Expected: fmt.Sprintf("%d active %s contracts", *a.Count, a.Of),
			Actual:   fmt.Sprintf("%d", len(found)),
		}
	}
	return nil
}

// assertJobs counts the jobs left in the queue, due or not.
func assertJobs(ctx context.Context, h *Harness, a Assertion) error {
	jobs, err := h.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) != *a.Count {
		return &AssertionError{
			Type:     AssertJobs,
			Expected: fmt.Sprintf("%d queued jobs", *a.Count),
			Actual:   fmt.Sprintf("%d", len(jobs)),
		}
	}
	return nil
}

// matchSubset reports whether actual contains every key of expected,
// recursing into nested objects. Other values must be equal.
func matchSubset(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		wantMap, wantIsMap := want.(map[string]any)
		gotMap, gotIsMap := got.(map[string]any)
		if wantIsMap && gotIsMap {
			if !matchSubset(gotMap, wantMap) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// AssertionContext gives state assertions access to the harness.
type AssertionContext struct {
	Harness *Harness
	Ctx     context.Context
}

// EvaluateAssertions evaluates all assertions against the result and
// returns a message for each failure. State assertions need actx.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertCard, AssertContracts, AssertJobs:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a harness", i, a.Type)
				break
			}
			switch a.Type {
			case AssertCard:
				err = assertCard(actx.Ctx, actx.Harness, a)
			case AssertContracts:
				err = assertContracts(actx.Ctx, actx.Harness, a)
			default:
				err = assertJobs(actx.Ctx, actx.Harness, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
