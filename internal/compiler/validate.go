package compiler

import (
	"fmt"
	"time"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/engine"
	"github.com/roach88/contractworker/internal/schedule"
	"github.com/roach88/contractworker/internal/schema"
)

// ValidationError describes a compiled contract the worker would reject.
type ValidationError struct {
	Code    string
	Slug    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Slug, e.Message)
}

// Validate checks compiled contracts the way the worker checks them on
// write, without a store. known reports whether an action is registered;
// nil skips that check.
func Validate(r *Result, known func(ref string) bool, now time.Time) []ValidationError {
	var out []ValidationError
	schemas := schema.NewCache()
	slugs := map[string]bool{}

	for _, c := range r.Contracts() {
		if slugs[c.Ref()] {
			out = append(out, ValidationError{Code: ErrCodeGeneric, Slug: c.Slug, Message: "defined twice"})
		}
		slugs[c.Ref()] = true
	}

	for _, c := range r.Types {
		s, _ := c.Data["schema"].(map[string]any)
		if _, err := schemas.Compile(s); err != nil {
			out = append(out, ValidationError{Code: ErrCodeInvalidType, Slug: c.Slug, Message: err.Error()})
		}
	}

	for _, c := range r.Triggers {
		t, err := engine.CompileTrigger(c, schemas)
		if err != nil {
			out = append(out, ValidationError{Code: ErrCodeInvalidTrigger, Slug: c.Slug, Message: err.Error()})
			continue
		}
		if known != nil && !known(t.Action) {
			out = append(out, ValidationError{Code: ErrCodeInvalidTrigger, Slug: c.Slug, Message: fmt.Sprintf("unknown action %s", t.Action)})
		}
	}

	for _, c := range r.Scheduled {
		var sa contract.ScheduledAction
		if err := contract.Decode(c.Data, &sa); err != nil {
			out = append(out, ValidationError{Code: ErrCodeInvalidScheduled, Slug: c.Slug, Message: err.Error()})
			continue
		}
		if _, err := schedule.NextExecutionDate(sa.Schedule, now); err != nil {
			out = append(out, ValidationError{Code: ErrCodeInvalidScheduled, Slug: c.Slug, Message: err.Error()})
		}
		if known != nil && !known(sa.Options.Action) {
			out = append(out, ValidationError{Code: ErrCodeInvalidScheduled, Slug: c.Slug, Message: fmt.Sprintf("unknown action %s", sa.Options.Action)})
		}
	}
	return out
}
