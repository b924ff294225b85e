package engine

import (
	"time"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/schedule"
	"github.com/roach88/contractworker/internal/schema"
	"github.com/roach88/contractworker/internal/template"
)

// Trigger is a compiled triggered-action contract.
type Trigger struct {
	ID       string
	Slug     string
	Contract contract.Contract

	Action    string
	Filter    *schema.Schema
	Target    TargetSpec
	Arguments template.Node
	Schedule  contract.TriggerSchedule
	Mode      contract.TriggerMode

	// Subjects are the contract types the filter admits. Nil means any type.
	Subjects []string

	// Interval and StartDate are set for periodic triggers, which fire from
	// the tick loop instead of on mutations.
	Interval  time.Duration
	StartDate time.Time
}

// Periodic reports whether t fires on a schedule rather than on mutations.
func (t *Trigger) Periodic() bool {
	return t.Interval > 0
}

// CompileTrigger validates a triggered-action contract and compiles its
// filter, target and arguments. Every failure is WorkerInvalidTrigger.
func CompileTrigger(c contract.Contract, schemas *schema.Cache) (*Trigger, error) {
	invalid := func(err error, format string, args ...any) error {
		return failure.Wrap(failure.WorkerInvalidTrigger, err, format, args...).With("trigger", c.Slug)
	}

	tr, err := c.TypeRef()
	if err != nil || tr.Slug != "triggered-action" {
		return nil, failure.New(failure.WorkerInvalidTrigger, "%s is a %s, not a triggered action", c.Slug, c.Type)
	}

	var data contract.TriggeredAction
	if err := contract.Decode(c.Data, &data); err != nil {
		return nil, invalid(err, "decode %s", c.Slug)
	}

	t := &Trigger{
		ID:       c.ID,
		Slug:     c.Slug,
		Contract: c,
		Action:   data.Action,
		Schedule: data.Schedule,
		Mode:     data.Mode,
	}

	if _, err := contract.ParseTypeRef(data.Action); err != nil || data.Action == "" {
		return nil, invalid(err, "%s: invalid action %q", c.Slug, data.Action)
	}

	switch t.Schedule {
	case "":
		t.Schedule = contract.ScheduleEnqueue
	case contract.ScheduleSync, contract.ScheduleAsync, contract.ScheduleEnqueue:
	default:
		return nil, invalid(nil, "%s: unknown schedule %q", c.Slug, data.Schedule)
	}

	switch t.Mode {
	case contract.ModeAny, contract.ModeInsert:
	default:
		return nil, invalid(nil, "%s: unknown mode %q", c.Slug, data.Mode)
	}

	if data.Interval != "" {
		t.Interval, err = schedule.ParseInterval(data.Interval)
		if err != nil {
			return nil, invalid(err, "%s: interval", c.Slug)
		}
		t.StartDate = c.CreatedAt
		if data.StartDate != "" {
			t.StartDate, err = contract.ParseTime(data.StartDate)
			if err != nil {
				return nil, invalid(err, "%s: startDate", c.Slug)
			}
		}
	}

	switch {
	case data.Filter != nil:
		t.Filter, err = schemas.Compile(data.Filter)
		if err != nil {
			return nil, invalid(err, "%s: filter", c.Slug)
		}
		t.Subjects = schema.ExtractHints(data.Filter).Types
	case !t.Periodic():
		return nil, invalid(nil, "%s: filter is required", c.Slug)
	}

	t.Target, err = ParseTarget(data.Target)
	if err != nil {
		return nil, invalid(err, "%s: target", c.Slug)
	}

	args := any(data.Arguments)
	if data.Arguments == nil {
		args = map[string]any{}
	}
	t.Arguments, err = template.Parse(args)
	if err != nil {
		return nil, invalid(err, "%s: arguments", c.Slug)
	}

	return t, nil
}
