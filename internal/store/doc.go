// Package store is the SQLite document store behind the worker.
//
// It holds contracts (including immutable event contracts), materialized
// link edges, the durable job table consumed by package queue, and the
// ledger of fired interval-trigger boundaries. Writes are batched through
// Apply so a contract mutation and its event record commit together.
// Stream delivers committed changes to in-process subscribers.
//
// The database uses WAL mode and a single connection, so every transaction
// is serialized; job claiming relies on that for mutual exclusion.
package store
