// Package engine decides which triggered actions fire for a contract
// mutation and what action requests they produce.
//
// Every mutation moves through the same stages:
//
//	RECEIVED -> MATCHED (0..n triggers) -> RESOLVED (0..n requests) -> ENQUEUED
//
// Matching is schema driven. Each active trigger is compiled once into a
// Trigger (filter schema, target spec, argument template) and held in a
// TriggerIndex bucketed by the contract types its filter admits, so a
// mutation only evaluates triggers that can possibly match its type.
//
// Resolution is isolated per trigger and per target: a target template
// that fails to evaluate yields no targets for that trigger, and arguments
// that fail to evaluate skip that trigger's requests. Neither blocks
// sibling triggers.
//
// The engine does not write. Evaluate returns Emissions and the caller
// dispatches them by schedule: "sync" inline inside a Cascade, "async"
// after the cascade settles, "enqueue" immediately.
//
// Sync cascades are bounded by a per-cascade cycle detector keyed by
// (trigger, target) and a step quota, so a trigger that re-matches its own
// output fails with WorkerCascadeLimit instead of recursing forever.
package engine
