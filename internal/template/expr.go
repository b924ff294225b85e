package template

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Expression is a compiled $eval expression.
type Expression struct {
	src  string
	root expr
}

// Compile parses an expression.
func Compile(src string) (*Expression, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("expression %q: at %d: unexpected %s", src, t.pos, describe(t))
	}
	return &Expression{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the expression source.
func (e *Expression) String() string {
	return e.src
}

// Eval evaluates the expression against env.
func (e *Expression) Eval(env Env) (any, error) {
	v, err := e.root.eval(env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", e.src, err)
	}
	return v, nil
}

// IndexedKeys returns every literal string key used to index
// <root>.<field>, e.g. IndexedKeys("contract", "links") on
// `len(contract.links["has member"])` returns ["has member"].
// Keys are deduplicated and sorted.
func (e *Expression) IndexedKeys(root, field string) []string {
	seen := map[string]bool{}
	walk(e.root, func(x expr) {
		ix, ok := x.(*indexExpr)
		if !ok {
			return
		}
		m, ok := ix.target.(*memberExpr)
		if !ok || m.name != field {
			return
		}
		id, ok := m.target.(*identExpr)
		if !ok || id.name != root {
			return
		}
		if lit, ok := ix.index.(*literalExpr); ok {
			if s, ok := lit.value.(string); ok {
				seen[s] = true
			}
		}
	})
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type expr interface {
	eval(env Env) (any, error)
}

type literalExpr struct{ value any }

type identExpr struct{ name string }

type memberExpr struct {
	target expr
	name   string
}

type indexExpr struct {
	target expr
	index  expr
}

type sliceExpr struct {
	target expr
	lo, hi expr
}

type callExpr struct {
	name string
	fn   builtin
	args []expr
}

type unaryExpr struct {
	op      string
	operand expr
}

type binaryExpr struct {
	op          string
	left, right expr
}

type logicalExpr struct {
	op          string
	left, right expr
}

type listExpr struct{ items []expr }

type objectExpr struct {
	keys   []string
	values []expr
}

func walk(x expr, visit func(expr)) {
	if x == nil {
		return
	}
	visit(x)
	switch n := x.(type) {
	case *memberExpr:
		walk(n.target, visit)
	case *indexExpr:
		walk(n.target, visit)
		walk(n.index, visit)
	case *sliceExpr:
		walk(n.target, visit)
		walk(n.lo, visit)
		walk(n.hi, visit)
	case *callExpr:
		for _, a := range n.args {
			walk(a, visit)
		}
	case *unaryExpr:
		walk(n.operand, visit)
	case *binaryExpr:
		walk(n.left, visit)
		walk(n.right, visit)
	case *logicalExpr:
		walk(n.left, visit)
		walk(n.right, visit)
	case *listExpr:
		for _, item := range n.items {
			walk(item, visit)
		}
	case *objectExpr:
		for _, v := range n.values {
			walk(v, visit)
		}
	}
}

func (x *literalExpr) eval(Env) (any, error) {
	return x.value, nil
}

func (x *identExpr) eval(env Env) (any, error) {
	v, ok := env.Lookup(x.name)
	if !ok {
		return nil, fmt.Errorf("unknown identifier %q", x.name)
	}
	return v, nil
}

func (x *memberExpr) eval(env Env) (any, error) {
	target, err := x.target.eval(env)
	if err != nil {
		return nil, err
	}
	return property(target, x.name)
}

func (x *indexExpr) eval(env Env) (any, error) {
	target, err := x.target.eval(env)
	if err != nil {
		return nil, err
	}
	idx, err := x.index.eval(env)
	if err != nil {
		return nil, err
	}
	switch key := idx.(type) {
	case string:
		return property(target, key)
	default:
		n, ok := toNumber(idx)
		if !ok || n != math.Trunc(n) {
			return nil, fmt.Errorf("index must be a string or integer, got %s", typeName(idx))
		}
		return element(target, int(n))
	}
}

func (x *sliceExpr) eval(env Env) (any, error) {
	target, err := x.target.eval(env)
	if err != nil {
		return nil, err
	}
	var length int
	switch t := target.(type) {
	case []any:
		length = len(t)
	case string:
		length = len([]rune(t))
	default:
		return nil, fmt.Errorf("cannot slice %s", typeName(target))
	}

	lo, hi := 0, length
	if x.lo != nil {
		if lo, err = sliceBound(x.lo, env, length); err != nil {
			return nil, err
		}
	}
	if x.hi != nil {
		if hi, err = sliceBound(x.hi, env, length); err != nil {
			return nil, err
		}
	}
	if hi < lo {
		hi = lo
	}

	switch t := target.(type) {
	case []any:
		out := make([]any, hi-lo)
		copy(out, t[lo:hi])
		return out, nil
	default:
		return string([]rune(t.(string))[lo:hi]), nil
	}
}

func sliceBound(x expr, env Env, length int) (int, error) {
	v, err := x.eval(env)
	if err != nil {
		return 0, err
	}
	n, ok := toNumber(v)
	if !ok || n != math.Trunc(n) {
		return 0, fmt.Errorf("slice bound must be an integer, got %s", typeName(v))
	}
	i := int(n)
	if i < 0 {
		i += length
	}
	if i < 0 {
		i = 0
	}
	if i > length {
		i = length
	}
	return i, nil
}

func (x *callExpr) eval(env Env) (any, error) {
	if strings.EqualFold(x.name, "exists") {
		if len(x.args) != 1 {
			return nil, fmt.Errorf("exists expects 1 argument, got %d", len(x.args))
		}
		v, err := x.args[0].eval(env)
		return err == nil && v != nil, nil
	}
	args := make([]any, len(x.args))
	for i, a := range x.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := x.fn(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", x.name, err)
	}
	return v, nil
}

func (x *unaryExpr) eval(env Env) (any, error) {
	v, err := x.operand.eval(env)
	if err != nil {
		return nil, err
	}
	switch x.op {
	case "!":
		return !truthy(v), nil
	default:
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %s", typeName(v))
		}
		return -n, nil
	}
}

func (x *logicalExpr) eval(env Env) (any, error) {
	left, err := x.left.eval(env)
	if err != nil {
		return nil, err
	}
	if x.op == "&&" && !truthy(left) {
		return false, nil
	}
	if x.op == "||" && truthy(left) {
		return true, nil
	}
	right, err := x.right.eval(env)
	if err != nil {
		return nil, err
	}
	return truthy(right), nil
}

func (x *binaryExpr) eval(env Env) (any, error) {
	left, err := x.left.eval(env)
	if err != nil {
		return nil, err
	}
	right, err := x.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch x.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "in":
		return contains(right, left)
	case "+":
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		if la, ok := left.([]any); ok {
			if ra, ok := right.([]any); ok {
				out := make([]any, 0, len(la)+len(ra))
				return append(append(out, la...), ra...), nil
			}
		}
	case "<", "<=", ">", ">=":
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return compareOrdered(x.op, strings.Compare(ls, rs)), nil
			}
		}
	}

	l, lok := toNumber(left)
	r, rok := toNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s: unsupported operands %s and %s", x.op, typeName(left), typeName(right))
	}
	switch x.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(l, r), nil
	default:
		cmp := 0
		if l < r {
			cmp = -1
		} else if l > r {
			cmp = 1
		}
		return compareOrdered(x.op, cmp), nil
	}
}

func compareOrdered(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default:
		return cmp >= 0
	}
}

func (x *listExpr) eval(env Env) (any, error) {
	out := make([]any, len(x.items))
	for i, item := range x.items {
		v, err := item.eval(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (x *objectExpr) eval(env Env) (any, error) {
	out := make(map[string]any, len(x.keys))
	for i, k := range x.keys {
		v, err := x.values[i].eval(env)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func property(target any, name string) (any, error) {
	switch t := target.(type) {
	case map[string]any:
		v, ok := t[name]
		if !ok {
			return nil, fmt.Errorf("object has no property %q", name)
		}
		return v, nil
	case []any:
		if name == "length" {
			return float64(len(t)), nil
		}
	case string:
		if name == "length" {
			return float64(len([]rune(t))), nil
		}
	}
	return nil, fmt.Errorf("cannot read property %q of %s", name, typeName(target))
}

func element(target any, i int) (any, error) {
	switch t := target.(type) {
	case []any:
		if i < 0 {
			i += len(t)
		}
		if i < 0 || i >= len(t) {
			return nil, fmt.Errorf("index %d out of range (length %d)", i, len(t))
		}
		return t[i], nil
	case string:
		runes := []rune(t)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return nil, fmt.Errorf("index %d out of range (length %d)", i, len(runes))
		}
		return string(runes[i]), nil
	}
	return nil, fmt.Errorf("cannot index %s", typeName(target))
}

func contains(container, needle any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, item := range c {
			if equal(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("in: object keys are strings, got %s", typeName(needle))
		}
		_, found := c[key]
		return found, nil
	case string:
		sub, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("in: expected string, got %s", typeName(needle))
		}
		return strings.Contains(c, sub), nil
	}
	return false, fmt.Errorf("in: cannot search %s", typeName(container))
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if n, ok := toNumber(v); ok {
		return n != 0
	}
	return true
}

func equal(a, b any) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
