package schema

import "sort"

// Hints are equality constraints on top-level contract columns that a
// filter implies. A nil slice means "unconstrained".
type Hints struct {
	Types  []string
	IDs    []string
	Slugs  []string
	Active *bool
}

// ExtractHints reads const/enum constraints on type, id, slug and active
// from the top-level properties of a filter and from its allOf branches.
// Hints are conservative: a contract outside them can never match, but a
// contract inside them still has to pass the full predicate.
func ExtractHints(raw map[string]any) Hints {
	var h Hints
	collectHints(raw, &h)
	return h
}

func collectHints(node map[string]any, h *Hints) {
	if props, ok := node["properties"].(map[string]any); ok {
		h.Types = intersect(h.Types, stringConstraint(props["type"]))
		h.IDs = intersect(h.IDs, stringConstraint(props["id"]))
		h.Slugs = intersect(h.Slugs, stringConstraint(props["slug"]))
		if active, ok := boolConstraint(props["active"]); ok {
			h.Active = &active
		}
	}
	if all, ok := node["allOf"].([]any); ok {
		for _, branch := range all {
			if m, ok := branch.(map[string]any); ok {
				collectHints(m, h)
			}
		}
	}
}

func stringConstraint(v any) []string {
	prop, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if c, ok := prop["const"].(string); ok {
		return []string{c}
	}
	if enum, ok := prop["enum"].([]any); ok {
		out := make([]string, 0, len(enum))
		for _, e := range enum {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		sort.Strings(out)
		return out
	}
	return nil
}

func boolConstraint(v any) (bool, bool) {
	prop, ok := v.(map[string]any)
	if !ok {
		return false, false
	}
	if c, ok := prop["const"].(bool); ok {
		return c, true
	}
	if enum, ok := prop["enum"].([]any); ok && len(enum) == 1 {
		if b, ok := enum[0].(bool); ok {
			return b, true
		}
	}
	return false, false
}

// intersect combines two constraints; nil is the universe.
func intersect(a, b []string) []string {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	out := []string{}
	for _, s := range a {
		if in[s] {
			out = append(out, s)
		}
	}
	return out
}
