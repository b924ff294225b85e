// Package formula keeps computed ($$formula) properties fresh.
//
// Evaluate recomputes every formula of a type schema for one contract, and
// is run by the write path before each insert or update. Synthesize reads
// the same formulas, finds the link verbs they depend on, and produces one
// triggered action per (type, verb): whenever a contract on the other end
// of such a link changes, every contract of the type linked to it receives
// an empty update, which re-runs Evaluate.
//
// Link verbs and their inverses come from a Registry.
package formula
