package engine

import (
	"fmt"

	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/template"
)

// TargetSpec is the compiled target of a triggered action.
//
// This is a sealed interface - only Single, List and Template implement it.
type TargetSpec interface {
	targetSpec()
}

// Single targets one contract id.
type Single struct {
	ID string
}

// List targets a fixed set of distinct contract ids.
type List struct {
	IDs []string
}

// Template targets whatever ids a template renders against the
// triggering contract.
type Template struct {
	Node template.Node
}

func (Single) targetSpec()   {}
func (List) targetSpec()     {}
func (Template) targetSpec() {}

// ParseTarget compiles the persisted target of a triggered action.
//
// Accepted shapes are an id string, an {"id": ...} object, an array of id
// strings or {"id": ...} objects, and any $eval/$map template. Arrays with
// duplicate ids are rejected.
func ParseTarget(raw any) (TargetSpec, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, failure.New(failure.WorkerInvalidTrigger, "target is empty")
		}
		return Single{ID: v}, nil

	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return parseTargetList(items)

	case []any:
		if template.IsTemplate(v) {
			return parseTargetTemplate(v)
		}
		return parseTargetList(v)

	case map[string]any:
		if template.IsTemplate(v) {
			return parseTargetTemplate(v)
		}
		id, ok := v["id"].(string)
		if !ok || id == "" {
			return nil, failure.New(failure.WorkerInvalidTrigger, "target object has no id")
		}
		return Single{ID: id}, nil

	case nil:
		return nil, failure.New(failure.WorkerInvalidTrigger, "target is required")

	default:
		return nil, failure.New(failure.WorkerInvalidTrigger, "unsupported target %T", raw)
	}
}

func parseTargetList(items []any) (TargetSpec, error) {
	if len(items) == 0 {
		return nil, failure.New(failure.WorkerInvalidTrigger, "target list is empty")
	}
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for i, item := range items {
		id, ok := targetID(item)
		if !ok {
			return nil, failure.New(failure.WorkerInvalidTrigger,
				"target [%d]: want an id string or {id}, got %T", i, item)
		}
		if seen[id] {
			return nil, failure.New(failure.WorkerInvalidTrigger,
				"target [%d]: duplicate id %q", i, id).With("id", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return List{IDs: ids}, nil
}

func parseTargetTemplate(v any) (TargetSpec, error) {
	n, err := template.Parse(v)
	if err != nil {
		return nil, failure.Wrap(failure.WorkerInvalidTrigger, err, "invalid target template")
	}
	return Template{Node: n}, nil
}

// targetID accepts "id" and {"id": "id"}.
func targetID(v any) (string, bool) {
	switch item := v.(type) {
	case string:
		return item, item != ""
	case map[string]any:
		id, ok := item["id"].(string)
		return id, ok && id != ""
	}
	return "", false
}

// Resolve computes the target ids of spec against env.
//
// Template results may be an id, an {id} object, or an array of either;
// null entries are skipped and repeated ids collapse to the first. Any
// other value is an error.
func Resolve(spec TargetSpec, env template.Env) ([]string, error) {
	switch s := spec.(type) {
	case Single:
		return []string{s.ID}, nil

	case List:
		return append([]string(nil), s.IDs...), nil

	case Template:
		v, err := template.Evaluate(s.Node, env)
		if err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			items = []any{v}
		}
		seen := make(map[string]bool, len(items))
		ids := make([]string, 0, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			id, ok := targetID(item)
			if !ok {
				return nil, fmt.Errorf("target [%d]: want an id string or {id}, got %T", i, item)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		return ids, nil

	case nil:
		return nil, fmt.Errorf("no target")

	default:
		return nil, fmt.Errorf("unknown target spec %T", spec)
	}
}
