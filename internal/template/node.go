package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Node is a parsed template.
//
// This is a sealed interface - only types in this package implement it.
type Node interface {
	templateNode()
}

// Literal is a constant JSON value.
type Literal struct {
	Value any
}

// Eval is an {"$eval": "..."} expression.
type Eval struct {
	Expr *Expression
}

// Map is a {"$map": source, "each(var)": projection} template.
// Index, when set, binds the element position.
type Map struct {
	Source Node
	Var    string
	Index  string
	Each   Node
}

// Object is a JSON object whose values are templates.
type Object struct {
	Fields map[string]Node
}

// Array is a JSON array whose items are templates.
type Array struct {
	Items []Node
}

func (Literal) templateNode() {}
func (Eval) templateNode()    {}
func (Map) templateNode()     {}
func (Object) templateNode()  {}
func (Array) templateNode()   {}

var eachKeyPattern = regexp.MustCompile(`^each\(\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?:,\s*([A-Za-z_][A-Za-z0-9_]*)\s*)?\)$`)

// Parse compiles decoded JSON into a template tree.
// Expression syntax errors are reported here rather than at evaluation.
func Parse(v any) (Node, error) {
	switch val := v.(type) {
	case map[string]any:
		return parseObject(val)
	case []any:
		items := make([]Node, len(val))
		for i, item := range val {
			n, err := Parse(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = n
		}
		return Array{Items: items}, nil
	default:
		return Literal{Value: val}, nil
	}
}

func parseObject(obj map[string]any) (Node, error) {
	if raw, ok := obj["$eval"]; ok {
		if len(obj) != 1 {
			return nil, fmt.Errorf("$eval must be the only key, got %s", keyList(obj))
		}
		src, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("$eval must be a string, got %T", raw)
		}
		expr, err := Compile(src)
		if err != nil {
			return nil, err
		}
		return Eval{Expr: expr}, nil
	}

	if raw, ok := obj["$map"]; ok {
		if len(obj) != 2 {
			return nil, fmt.Errorf("$map requires exactly one each(...) key, got %s", keyList(obj))
		}
		m := Map{}
		for key, val := range obj {
			if key == "$map" {
				continue
			}
			match := eachKeyPattern.FindStringSubmatch(key)
			if match == nil {
				return nil, fmt.Errorf("$map: invalid key %q, want each(name)", key)
			}
			m.Var, m.Index = match[1], match[2]
			each, err := Parse(val)
			if err != nil {
				return nil, fmt.Errorf("$map %s: %w", key, err)
			}
			m.Each = each
		}
		source, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("$map source: %w", err)
		}
		m.Source = source
		return m, nil
	}

	fields := make(map[string]Node, len(obj))
	for key, val := range obj {
		if strings.HasPrefix(key, "$") && !strings.HasPrefix(key, "$$") {
			return nil, fmt.Errorf("unknown operator %q", key)
		}
		n, err := Parse(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		fields[key] = n
	}
	return Object{Fields: fields}, nil
}

// Evaluate renders a template against env.
//
// The first failing branch aborts the whole evaluation. A partially
// rendered value is never returned.
func Evaluate(n Node, env Env) (any, error) {
	switch node := n.(type) {
	case Literal:
		return node.Value, nil
	case Eval:
		return node.Expr.Eval(env)
	case Map:
		return evaluateMap(node, env)
	case Object:
		out := make(map[string]any, len(node.Fields))
		for _, key := range sortedNodeKeys(node.Fields) {
			v, err := Evaluate(node.Fields[key], env)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = v
		}
		return out, nil
	case Array:
		out := make([]any, len(node.Items))
		for i, item := range node.Items {
			v, err := Evaluate(item, env)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown template node %T", n)
	}
}

func evaluateMap(m Map, env Env) (any, error) {
	src, err := Evaluate(m.Source, env)
	if err != nil {
		return nil, fmt.Errorf("$map source: %w", err)
	}
	arr, ok := src.([]any)
	if !ok {
		return nil, fmt.Errorf("$map source must be an array, got %s", typeName(src))
	}
	out := make([]any, 0, len(arr))
	for i, item := range arr {
		scope := env.With(m.Var, item)
		if m.Index != "" {
			scope = scope.With(m.Index, float64(i))
		}
		v, err := Evaluate(m.Each, scope)
		if err != nil {
			return nil, fmt.Errorf("$map [%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// IsTemplate reports whether v contains any $eval or $map operator.
func IsTemplate(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		if _, ok := val["$eval"]; ok {
			return true
		}
		if _, ok := val["$map"]; ok {
			return true
		}
		for _, item := range val {
			if IsTemplate(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if IsTemplate(item) {
				return true
			}
		}
	}
	return false
}

func sortedNodeKeys(m map[string]Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func keyList(obj map[string]any) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
