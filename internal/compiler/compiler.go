// Package compiler turns CUE definitions into contracts.
//
// A definition directory holds one CUE package with up to four top-level
// structs, each keyed by a label:
//
//	relationships: "has line item": {
//	    inverseName: "is line item of"
//	    from: ["invoice@1.0.0"]
//	    to:   ["line-item@1.0.0"]
//	}
//	types: invoice: {
//	    name:   "Invoice"
//	    schema: {type: "object"}
//	}
//	triggers: "close-paid": {
//	    filter: {...}
//	    action: "action-update-card@1.0.0"
//	    target: {$eval: "source.id"}
//	    arguments: {patch: [...]}
//	}
//	scheduled: nightly: {
//	    options:  {...}
//	    schedule: {recurring: {...}}
//	}
//
// Compilation is pure: the contracts carry no ids or timestamps and are
// upserted by slug, so loading the same directory twice changes nothing.
package compiler

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/contractworker/internal/contract"
)

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(field string, err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Field: field, Message: err.Error()}
	}
	first := errs[0]
	ce := &CompileError{Field: field, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}

// decode renders a concrete CUE value as decoded JSON.
func decode(field string, v cue.Value) (map[string]any, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(field, err)
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	return m, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func definition(slug, typ, name string, data map[string]any, tags ...string) contract.Contract {
	if tags == nil {
		tags = []string{}
	}
	return contract.Contract{
		Slug:    slug,
		Version: "1.0.0",
		Type:    typ,
		Name:    name,
		Active:  true,
		Tags:    tags,
		Data:    data,
	}
}

// CompileType compiles types.<label> into a type contract whose slug is
// the label.
func CompileType(label string, v cue.Value) (contract.Contract, error) {
	field := "types." + label
	m, err := decode(field, v)
	if err != nil {
		return contract.Contract{}, err
	}
	if !contract.ValidSlug(label) {
		return contract.Contract{}, &CompileError{Field: field, Message: "label must be a valid slug", Pos: v.Pos()}
	}
	s, ok := m["schema"].(map[string]any)
	if !ok {
		return contract.Contract{}, &CompileError{Field: field + ".schema", Message: "schema is required", Pos: v.Pos()}
	}
	name := stringField(m, "name")
	if name == "" {
		name = label
	}
	c := definition(label, contract.TypeType, name, map[string]any{"schema": s})
	if version := stringField(m, "version"); version != "" {
		c.Version = version
	}
	return c, nil
}

// CompileRelationship compiles relationships.<verb> into a relationship
// contract named by the verb.
func CompileRelationship(label string, v cue.Value) (contract.Contract, error) {
	field := "relationships." + label
	m, err := decode(field, v)
	if err != nil {
		return contract.Contract{}, err
	}
	var rel contract.Relationship
	if err := contract.Decode(m, &rel); err != nil {
		return contract.Contract{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	if rel.InverseName == "" {
		return contract.Contract{}, &CompileError{Field: field + ".inverseName", Message: "inverseName is required", Pos: v.Pos()}
	}
	data, err := contract.Encode(rel)
	if err != nil {
		return contract.Contract{}, err
	}
	return definition("relationship-"+contract.Slugify(label), contract.TypeRelationship, label, data), nil
}

// CompileTrigger compiles triggers.<label> into a triggered-action
// contract. Its filter, target and arguments are checked by Validate.
func CompileTrigger(label string, v cue.Value) (contract.Contract, error) {
	field := "triggers." + label
	m, err := decode(field, v)
	if err != nil {
		return contract.Contract{}, err
	}
	var data contract.TriggeredAction
	if err := contract.Decode(m, &data); err != nil {
		return contract.Contract{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	if data.Action == "" {
		return contract.Contract{}, &CompileError{Field: field + ".action", Message: "action is required", Pos: v.Pos()}
	}
	if data.Target == nil {
		return contract.Contract{}, &CompileError{Field: field + ".target", Message: "target is required", Pos: v.Pos()}
	}
	if data.Arguments == nil {
		m["arguments"] = map[string]any{}
	}
	return definition("triggered-action-"+contract.Slugify(label), contract.TypeTriggeredAction, label, m), nil
}

// CompileScheduled compiles scheduled.<label> into a scheduled-action
// contract.
func CompileScheduled(label string, v cue.Value) (contract.Contract, error) {
	field := "scheduled." + label
	m, err := decode(field, v)
	if err != nil {
		return contract.Contract{}, err
	}
	var data contract.ScheduledAction
	if err := contract.Decode(m, &data); err != nil {
		return contract.Contract{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	if data.Options.Action == "" {
		return contract.Contract{}, &CompileError{Field: field + ".options.action", Message: "action is required", Pos: v.Pos()}
	}
	if (data.Schedule.Once == nil) == (data.Schedule.Recurring == nil) {
		return contract.Contract{}, &CompileError{Field: field + ".schedule", Message: "exactly one of once or recurring is required", Pos: v.Pos()}
	}
	return definition("scheduled-action-"+contract.Slugify(label), contract.TypeScheduledAction, label, m), nil
}
