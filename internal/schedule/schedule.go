// Package schedule computes when scheduled actions and interval triggers
// are due. Everything here is a pure function of its inputs and "now".
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
)

// NextExecutionDate returns when a scheduled action should next run, or nil
// when it should never run again.
//
// A once schedule runs at its date if that date is after now.
// A recurring schedule runs at the first cron occurrence at or after start
// when start is in the future, otherwise at the first occurrence strictly
// after now; occurrences after end are discarded.
//
// Malformed dates, cron expressions or an empty schedule fail with
// QueueInvalidAction.
func NextExecutionDate(spec contract.ScheduleSpec, now time.Time) (*time.Time, error) {
	now = now.UTC()
	switch {
	case spec.Once != nil:
		date, err := contract.ParseTime(spec.Once.Date)
		if err != nil {
			return nil, failure.Wrap(failure.QueueInvalidAction, err, "invalid once date %q", spec.Once.Date)
		}
		if !date.After(now) {
			return nil, nil
		}
		return &date, nil

	case spec.Recurring != nil:
		return nextRecurring(*spec.Recurring, now)

	default:
		return nil, failure.New(failure.QueueInvalidAction, "schedule must be once or recurring")
	}
}

func nextRecurring(r contract.Recurring, now time.Time) (*time.Time, error) {
	sched, err := ParseCron(r.Interval)
	if err != nil {
		return nil, err
	}

	start, err := contract.ParseTime(r.Start)
	if err != nil {
		return nil, failure.Wrap(failure.QueueInvalidAction, err, "invalid recurring start %q", r.Start)
	}

	var next time.Time
	if start.After(now) {
		// Next is strictly-after; step back so an occurrence exactly at
		// start counts.
		next = sched.Next(start.Add(-time.Nanosecond))
	} else {
		next = sched.Next(now)
	}
	if next.IsZero() {
		return nil, nil
	}

	if r.End != "" {
		end, err := contract.ParseTime(r.End)
		if err != nil {
			return nil, failure.Wrap(failure.QueueInvalidAction, err, "invalid recurring end %q", r.End)
		}
		if next.After(end) {
			return nil, nil
		}
	}
	next = next.UTC()
	return &next, nil
}

// ParseCron parses a five-field cron expression or a descriptor such as
// "@hourly". Times are evaluated in UTC.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard("CRON_TZ=UTC " + expr)
	if err != nil {
		return nil, failure.Wrap(failure.QueueInvalidAction, err, "invalid cron expression %q", expr)
	}
	return sched, nil
}
