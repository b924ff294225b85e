package template

// Env is the evaluation environment. It is a value type: With returns a new
// Env and never modifies the receiver, so a single Env can be shared across
// concurrent evaluations.
type Env struct {
	Source    any
	Actor     any
	Timestamp string

	vars map[string]any
}

// NewEnv builds the standard trigger environment.
func NewEnv(source, actor any, timestamp string) Env {
	return Env{Source: source, Actor: actor, Timestamp: timestamp}
}

// With returns a copy of e with name bound to value.
// Bindings shadow source, actor and timestamp.
func (e Env) With(name string, value any) Env {
	vars := make(map[string]any, len(e.vars)+1)
	for k, v := range e.vars {
		vars[k] = v
	}
	vars[name] = value
	e.vars = vars
	return e
}

// Lookup resolves a top-level identifier.
func (e Env) Lookup(name string) (any, bool) {
	if v, ok := e.vars[name]; ok {
		return v, true
	}
	switch name {
	case "source":
		return e.Source, e.Source != nil
	case "actor":
		return e.Actor, e.Actor != nil
	case "timestamp":
		return e.Timestamp, e.Timestamp != ""
	}
	return nil, false
}
