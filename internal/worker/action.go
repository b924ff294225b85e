package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/schema"
)

// PreFunc prepares arguments before the handler runs. Its result replaces
// the request arguments.
type PreFunc func(ctx context.Context, hc *Context, args map[string]any) (map[string]any, error)

// HandlerFunc performs an action on card and returns a JSON-able summary.
type HandlerFunc func(ctx context.Context, hc *Context, card contract.Contract, args map[string]any) (any, error)

// Action is a registered action definition.
type Action struct {
	// Ref is "slug@version", e.g. "action-update-card@1.0.0".
	Ref string
	// Arguments is the JSON Schema the request arguments must satisfy.
	Arguments map[string]any
	// Filter restricts the contracts the action applies to.
	Filter map[string]any

	Pre     PreFunc
	Handler HandlerFunc
}

type registered struct {
	Action
	arguments *schema.Schema
	filter    *schema.Schema
}

// Registry maps action refs to definitions. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*registered
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*registered)}
}

// DefaultRegistry returns a registry holding the built-in card actions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range builtinActions() {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds or replaces an action.
func (r *Registry) Register(a Action) error {
	tr, err := contract.ParseTypeRef(a.Ref)
	if err != nil || tr.IsLatest() {
		return fmt.Errorf("register action %q: want slug@version", a.Ref)
	}
	if a.Handler == nil {
		return fmt.Errorf("register action %s: handler is required", a.Ref)
	}

	reg := &registered{Action: a}
	if a.Arguments != nil {
		if reg.arguments, err = schema.Compile(a.Arguments); err != nil {
			return fmt.Errorf("register action %s: arguments: %w", a.Ref, err)
		}
	}
	if a.Filter != nil {
		if reg.filter, err = schema.Compile(a.Filter); err != nil {
			return fmt.Errorf("register action %s: filter: %w", a.Ref, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[tr.String()] = reg
	return nil
}

func (r *Registry) lookup(ref string) (*registered, bool) {
	tr, err := contract.ParseTypeRef(ref)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !tr.IsLatest() {
		a, ok := r.actions[tr.String()]
		return a, ok
	}

	var (
		candidates []*registered
		versions   []string
	)
	for _, a := range r.actions {
		if at := contract.MustParseTypeRef(a.Ref); at.Slug == tr.Slug {
			candidates = append(candidates, a)
			versions = append(versions, at.Version)
		}
	}
	if i := contract.HighestVersion(versions); i >= 0 {
		return candidates[i], true
	}
	return nil, false
}

// Has reports whether ref is registered.
func (r *Registry) Has(ref string) bool {
	_, ok := r.lookup(ref)
	return ok
}

// Refs returns the registered refs, sorted.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for ref := range r.actions {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}
