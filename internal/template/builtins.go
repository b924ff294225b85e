package template

import (
	"fmt"
	"strings"
)

type builtin func(args []any) (any, error)

// builtins are looked up case-insensitively, so formulas may write SUM(...)
// and templates len(...). exists is handled by the evaluator because it
// must see evaluation errors.
var builtins = map[string]builtin{
	"len":    builtinLen,
	"count":  builtinLen,
	"sum":    builtinSum,
	"max":    builtinExtreme(1),
	"min":    builtinExtreme(-1),
	"first":  builtinFirst,
	"last":   builtinLast,
	"pluck":  builtinPluck,
	"where":  builtinWhere,
	"join":   builtinJoin,
	"lower":  builtinString(strings.ToLower),
	"upper":  builtinString(strings.ToUpper),
	"exists": nil,
}

func lookupBuiltin(name string) (builtin, bool) {
	fn, ok := builtins[strings.ToLower(name)]
	return fn, ok
}

func arity(args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("expects %d argument(s), got %d", n, len(args))
	}
	return nil
}

func builtinLen(args []any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case []any:
		return float64(len(v)), nil
	case string:
		return float64(len([]rune(v))), nil
	case map[string]any:
		return float64(len(v)), nil
	case nil:
		return float64(0), nil
	}
	return nil, fmt.Errorf("cannot take length of %s", typeName(args[0]))
}

// numbers flattens the arguments: a single array argument is spread.
func numbers(args []any) ([]float64, error) {
	if len(args) == 1 {
		if arr, ok := args[0].([]any); ok {
			args = arr
		}
	}
	out := make([]float64, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		n, ok := toNumber(a)
		if !ok {
			return nil, fmt.Errorf("expected number, got %s", typeName(a))
		}
		out = append(out, n)
	}
	return out, nil
}

func builtinSum(args []any) (any, error) {
	ns, err := numbers(args)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, n := range ns {
		total += n
	}
	return total, nil
}

func builtinExtreme(sign float64) builtin {
	return func(args []any) (any, error) {
		ns, err := numbers(args)
		if err != nil {
			return nil, err
		}
		if len(ns) == 0 {
			return nil, nil
		}
		best := ns[0]
		for _, n := range ns[1:] {
			if (n-best)*sign > 0 {
				best = n
			}
		}
		return best, nil
	}
}

func builtinFirst(args []any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %s", typeName(args[0]))
	}
	if len(arr) == 0 {
		return nil, nil
	}
	return arr[0], nil
}

func builtinLast(args []any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %s", typeName(args[0]))
	}
	if len(arr) == 0 {
		return nil, nil
	}
	return arr[len(arr)-1], nil
}

// builtinPluck projects a dotted path out of every element, skipping
// elements where the path is absent.
func builtinPluck(args []any) (any, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %s", typeName(args[0]))
	}
	path, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("expected path string, got %s", typeName(args[1]))
	}
	segments := strings.Split(path, ".")
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		v := item
		found := true
		for _, seg := range segments {
			next, err := property(v, seg)
			if err != nil {
				found = false
				break
			}
			v = next
		}
		if found {
			out = append(out, v)
		}
	}
	return out, nil
}

// builtinWhere keeps the elements whose dotted path equals value.
func builtinWhere(args []any) (any, error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %s", typeName(args[0]))
	}
	path, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("expected path string, got %s", typeName(args[1]))
	}
	segments := strings.Split(path, ".")
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		v, found := item, true
		for _, seg := range segments {
			next, err := property(v, seg)
			if err != nil {
				found = false
				break
			}
			v = next
		}
		if found && equal(v, args[2]) {
			out = append(out, item)
		}
	}
	return out, nil
}

func builtinJoin(args []any) (any, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %s", typeName(args[0]))
	}
	sep, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("expected separator string, got %s", typeName(args[1]))
	}
	parts := make([]string, len(arr))
	for i, item := range arr {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, sep), nil
}

func builtinString(f func(string) string) builtin {
	return func(args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", typeName(args[0]))
		}
		return f(s), nil
	}
}
