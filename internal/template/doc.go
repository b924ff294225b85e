// Package template evaluates the JSON templates carried by triggered actions.
//
// A template is decoded JSON in which two shapes are special:
//
//	{"$eval": "<expression>"}
//	{"$map": <template>, "each(x)": <template>}
//
// Parse turns decoded JSON into a tree of sealed Node values (Literal, Eval,
// Map, Object, Array). Evaluate walks that tree against an Env, the
// immutable set of bindings (source, actor, timestamp and any variables
// introduced by $map) passed by value through every call.
//
// Expressions use a small language: property access (a.b, a["b"]),
// indexing with negative indices, slices (a[1:], a[:-1]), arithmetic,
// comparison, boolean operators, "in", list and object literals, and a
// fixed set of builtin functions (see builtins.go). Any failure, including
// a missing property, is an error; callers decide how far it propagates.
package template
