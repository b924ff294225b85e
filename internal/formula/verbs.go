package formula

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/contractworker/internal/contract"
)

// AnyType is the wildcard type of an unconstrained link end.
const AnyType = "*"

// Verb declares a link verb between contract types. From and To hold type
// references ("slug@version") or AnyType.
type Verb struct {
	Name    string
	Inverse string
	From    []string
	To      []string
}

// reserved verbs are always present, even in an empty registry.
var reserved = []Verb{
	{
		Name:    contract.VerbIsAttachedTo,
		Inverse: contract.VerbHasAttachedElement,
		From: []string{
			"message@1.0.0", "whisper@1.0.0", contract.TypeCreate,
			contract.TypeUpdate, "rating@1.0.0", "summary@1.0.0",
		},
		To: []string{AnyType},
	},
	{
		Name:    contract.VerbExecutes,
		Inverse: contract.VerbIsExecutedBy,
		From:    []string{contract.TypeExecute},
		To:      []string{contract.TypeActionRequest},
	},
}

// Registry is the table of known link verbs. Each registration bumps
// Version so dependents can tell when synthesized triggers are stale.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	verbs   map[string]Verb
	version int
}

// NewRegistry returns a registry holding the reserved verbs.
func NewRegistry() *Registry {
	r := &Registry{verbs: make(map[string]Verb)}
	for _, v := range reserved {
		r.add(v)
	}
	r.version = 0
	return r
}

// Register adds a verb and its inverse. Registering a verb again replaces
// its declared types.
func (r *Registry) Register(v Verb) error {
	if v.Name == "" {
		return fmt.Errorf("register verb: name is required")
	}
	if v.Inverse == "" {
		v.Inverse = v.Name
	}
	if len(v.From) == 0 {
		v.From = []string{AnyType}
	}
	if len(v.To) == 0 {
		v.To = []string{AnyType}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(v)
	return nil
}

// RegisterContract registers the verb declared by a relationship contract.
func (r *Registry) RegisterContract(c contract.Contract) error {
	var rel contract.Relationship
	if err := contract.Decode(c.Data, &rel); err != nil {
		return fmt.Errorf("relationship %s: %w", c.Slug, err)
	}
	name := c.Name
	if name == "" {
		return fmt.Errorf("relationship %s: name (the verb) is required", c.Slug)
	}
	return r.Register(Verb{Name: name, Inverse: rel.InverseName, From: rel.From, To: rel.To})
}

func (r *Registry) add(v Verb) {
	r.verbs[v.Name] = v
	if v.Inverse != v.Name {
		r.verbs[v.Inverse] = Verb{Name: v.Inverse, Inverse: v.Name, From: v.To, To: v.From}
	}
	r.version++
}

// Inverse returns the reverse verb. Unregistered verbs are self-inverse.
func (r *Registry) Inverse(verb string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.verbs[verb]; ok {
		return v.Inverse
	}
	return verb
}

// Lookup returns the declaration of verb.
func (r *Registry) Lookup(verb string) (Verb, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verbs[verb]
	return v, ok
}

// TargetTypes returns the types a contract of type from may link to with
// verb. The result is nil when any type is allowed.
func (r *Registry) TargetTypes(verb, from string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verbs[verb]
	if !ok || !allows(v.From, from) {
		return nil
	}
	if allows(v.To, AnyType) {
		return nil
	}
	out := append([]string(nil), v.To...)
	sort.Strings(out)
	return out
}

// Allows reports whether verb may link a contract of type from to one of
// type to. Unregistered verbs allow any pair.
func (r *Registry) Allows(verb, from, to string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verbs[verb]
	if !ok {
		return true
	}
	return allows(v.From, from) && allows(v.To, to)
}

// Version increases on every registration.
func (r *Registry) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func allows(types []string, t string) bool {
	for _, x := range types {
		if x == AnyType || x == t {
			return true
		}
	}
	return false
}
