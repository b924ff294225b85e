// Package schema compiles JSON Schemas used as predicates over contracts.
//
// Filters of triggered actions, action argument schemas and type schemas all
// go through this package. Two keywords are interpreted here rather than by
// the JSON Schema validator:
//
//   - $$links at the top level maps a link verb to a sub-schema; the
//     predicate holds only when at least one contract linked by that verb
//     satisfies the sub-schema.
//   - $$formula on a property holds an expression computing that property
//     from the contract and its links (see package formula).
//
// ExtractHints pulls the indexable parts of a filter (type, id, slug,
// active) out of the schema so the trigger index and the SQL query
// compiler do not need to run the validator to discard obvious misses.
package schema
