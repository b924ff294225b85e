package schema

import (
	"sort"
	"strings"
)

// Formula is a computed property declared in a type schema.
type Formula struct {
	// Path is the property path from the contract root, e.g. ["data", "total"].
	Path []string
	Expr string
}

// Pointer renders Path as a JSON pointer.
func (f Formula) Pointer() string {
	var sb strings.Builder
	for _, seg := range f.Path {
		sb.WriteByte('/')
		seg = strings.ReplaceAll(seg, "~", "~0")
		sb.WriteString(strings.ReplaceAll(seg, "/", "~1"))
	}
	return sb.String()
}

// Formulas returns every $$formula in a type schema, ordered by path.
// Nested properties and allOf/anyOf/oneOf branches are searched.
func Formulas(raw map[string]any) []Formula {
	var out []Formula
	collectFormulas(raw, nil, &out)
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i].Path, "\x00") < strings.Join(out[j].Path, "\x00")
	})
	return out
}

func collectFormulas(node map[string]any, path []string, out *[]Formula) {
	if expr, ok := node[FormulaKeyword].(string); ok && len(path) > 0 {
		*out = append(*out, Formula{Path: append([]string(nil), path...), Expr: expr})
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for key, sub := range props {
			if m, ok := sub.(map[string]any); ok {
				collectFormulas(m, append(path[:len(path):len(path)], key), out)
			}
		}
	}
	for _, kw := range []string{"allOf", "anyOf", "oneOf"} {
		branches, ok := node[kw].([]any)
		if !ok {
			continue
		}
		for _, b := range branches {
			if m, ok := b.(map[string]any); ok {
				collectFormulas(m, path, out)
			}
		}
	}
}
