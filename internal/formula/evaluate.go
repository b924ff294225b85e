package formula

import (
	"fmt"
	"sort"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/schema"
	"github.com/roach88/contractworker/internal/template"
)

// LinkVerbs returns every verb referenced as contract.links["verb"] or
// this.links["verb"] by the formulas of a type schema, sorted.
func LinkVerbs(typeSchema map[string]any) ([]string, error) {
	seen := map[string]bool{}
	for _, f := range schema.Formulas(typeSchema) {
		expr, err := template.Compile(f.Expr)
		if err != nil {
			return nil, fmt.Errorf("formula %s: %w", f.Pointer(), err)
		}
		for _, root := range []string{"contract", "this"} {
			for _, verb := range expr.IndexedKeys(root, "links") {
				seen[verb] = true
			}
		}
	}
	verbs := make([]string, 0, len(seen))
	for v := range seen {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs, nil
}

// Evaluate recomputes the formulas of typeSchema for c and returns the
// updated copy. Links referenced by the formulas must already be loaded.
//
// A formula that fails to evaluate leaves its property untouched and is
// reported in the returned errors; the other formulas still apply.
// Formulas outside /data are ignored.
func Evaluate(typeSchema map[string]any, c contract.Contract) (contract.Contract, []error) {
	formulas := schema.Formulas(typeSchema)
	if len(formulas) == 0 {
		return c, nil
	}

	out := c.Clone()
	var errs []error
	for _, f := range formulas {
		if len(f.Path) < 2 || f.Path[0] != "data" {
			continue
		}
		expr, err := template.Compile(f.Expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("formula %s: %w", f.Pointer(), err))
			continue
		}

		// Formulas see earlier formulas' results.
		view := out.Map()
		env := template.Env{}.With("contract", view).With("this", view)
		value, err := expr.Eval(env)
		if err != nil {
			errs = append(errs, fmt.Errorf("formula %s: %w", f.Pointer(), err))
			continue
		}
		setPath(out.Data, f.Path[1:], value)
	}
	return out, errs
}

// setPath assigns value at path inside data, creating intermediate objects.
func setPath(data map[string]any, path []string, value any) {
	cur := data
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}
