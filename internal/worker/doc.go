// Package worker executes action requests against the document store.
//
// The Worker owns the card write path. Every insert, patch, replace and
// link goes through it so that, after the write commits:
//
//   - computed $$formula properties are refreshed before persisting
//   - an immutable create or update event is attached to the card
//   - triggered actions are matched and their requests dispatched
//   - triggered-action, relationship, type and scheduled-action contracts
//     update the in-memory indexes and the job table
//
// Dispatch follows the trigger's schedule. Enqueue triggers are queued at
// once. Sync triggers run inline, in FIFO order, once the write that
// matched them has committed; their failure does not undo that write.
// Async triggers are queued after the whole cascade has settled.
//
// Execute runs one action request at most once. Its outcome, success or
// failure, is persisted as the request's execute event.
package worker
