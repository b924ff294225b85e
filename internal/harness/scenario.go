package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStart is the clock reading a scenario starts at when it names
// none.
var DefaultStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Scenario is an end-to-end test: definitions to install, steps to run
// against the worker and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the RFC 3339 time the clock starts at.
	Start string `yaml:"start,omitempty"`

	// Specs lists CUE definition directories to install.
	Specs []string `yaml:"specs"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action against the worker. Exactly one field other than
// Error is set.
type Step struct {
	Insert  *InsertStep  `yaml:"insert,omitempty"`
	Patch   *PatchStep   `yaml:"patch,omitempty"`
	Link    *LinkStep    `yaml:"link,omitempty"`
	Delete  *DeleteStep  `yaml:"delete,omitempty"`
	Enqueue *EnqueueStep `yaml:"enqueue,omitempty"`
	Drain   *DrainStep   `yaml:"drain,omitempty"`
	Tick    *TickStep    `yaml:"tick,omitempty"`
	Advance string       `yaml:"advance,omitempty"`

	// Error is the failure name the step must fail with.
	Error string `yaml:"error,omitempty"`
}

// InsertStep creates a card. ID is optional and lets definitions
// target the card by id.
type InsertStep struct {
	Type string         `yaml:"type"`
	Slug string         `yaml:"slug"`
	ID   string         `yaml:"id,omitempty"`
	Name string         `yaml:"name,omitempty"`
	Data map[string]any `yaml:"data,omitempty"`
}

// PatchStep applies an RFC 6902 patch to a card.
type PatchStep struct {
	Card  string `yaml:"card"`
	Patch []any  `yaml:"patch"`
}

// LinkStep links From to To by Verb.
type LinkStep struct {
	From string `yaml:"from"`
	Verb string `yaml:"verb"`
	To   string `yaml:"to"`
}

// DeleteStep deactivates a card.
type DeleteStep struct {
	Card string `yaml:"card"`
}

// EnqueueStep queues an action request on a card as the admin actor.
type EnqueueStep struct {
	Action    string         `yaml:"action"`
	Card      string         `yaml:"card"`
	Arguments map[string]any `yaml:"arguments,omitempty"`
}

// DrainStep runs due jobs. A positive Limit bounds how many.
type DrainStep struct {
	Limit int `yaml:"limit,omitempty"`
}

// TickStep runs one scheduler tick.
type TickStep struct{}

func (s Step) kinds() []string {
	var out []string
	if s.Insert != nil {
		out = append(out, "insert")
	}
	if s.Patch != nil {
		out = append(out, "patch")
	}
	if s.Link != nil {
		out = append(out, "link")
	}
	if s.Delete != nil {
		out = append(out, "delete")
	}
	if s.Enqueue != nil {
		out = append(out, "enqueue")
	}
	if s.Drain != nil {
		out = append(out, "drain")
	}
	if s.Tick != nil {
		out = append(out, "tick")
	}
	if s.Advance != "" {
		out = append(out, "advance")
	}
	return out
}

// Assertion checks the state left by the steps or the execution trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Card is a card reference (card, trace_contains).
	Card string `yaml:"card,omitempty"`

	// Data is matched as a subset of the card's data (card).
	Data map[string]any `yaml:"data,omitempty"`

	// Active is the expected active flag (card).
	Active *bool `yaml:"active,omitempty"`

	// Of is a contract type reference (contracts).
	Of string `yaml:"of,omitempty"`

	// Action is an action reference (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Error is the expected failure name (trace_contains).
	Error string `yaml:"error,omitempty"`

	// Count is the expected number (trace_count, jobs, contracts).
	Count *int `yaml:"count,omitempty"`

	// Actions is the expected execution order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertCard          = "card"
	AssertContracts     = "contracts"
	AssertJobs          = "jobs"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and validates a scenario file. Spec paths are
// resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, spec := range scenario.Specs {
		if !filepath.IsAbs(spec) {
			scenario.Specs[i] = filepath.Join(base, spec)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// StartTime returns the parsed start time, or DefaultStart.
func (s *Scenario) StartTime() (time.Time, error) {
	if s.Start == "" {
		return DefaultStart, nil
	}
	t, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t.UTC(), nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := s.StartTime(); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %v", index, kinds)
	}
	switch {
	case s.Insert != nil:
		if s.Insert.Type == "" || s.Insert.Slug == "" {
			return fmt.Errorf("steps[%d]: insert needs type and slug", index)
		}
	case s.Patch != nil:
		if s.Patch.Card == "" {
			return fmt.Errorf("steps[%d]: patch needs card", index)
		}
	case s.Link != nil:
		if s.Link.From == "" || s.Link.Verb == "" || s.Link.To == "" {
			return fmt.Errorf("steps[%d]: link needs from, verb and to", index)
		}
	case s.Delete != nil:
		if s.Delete.Card == "" {
			return fmt.Errorf("steps[%d]: delete needs card", index)
		}
	case s.Enqueue != nil:
		if s.Enqueue.Action == "" || s.Enqueue.Card == "" {
			return fmt.Errorf("steps[%d]: enqueue needs action and card", index)
		}
	case s.Advance != "":
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertCard:
		if a.Card == "" {
			return fmt.Errorf("assertions[%d]: card is required for card", index)
		}
		if a.Data == nil && a.Active == nil {
			return fmt.Errorf("assertions[%d]: card needs data or active", index)
		}
	case AssertContracts:
		if a.Of == "" {
			return fmt.Errorf("assertions[%d]: of is required for contracts", index)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for contracts", index)
		}
	case AssertJobs:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for jobs", index)
		}
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
