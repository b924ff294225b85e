// Package queue is the durable action-request queue.
//
// A Producer persists action-request contracts and enqueues a job for
// each; scheduled jobs carry a key, and enqueueing the same key again
// replaces the pending job. A Consumer claims due jobs from the job table
// and runs them on a bounded pool, acknowledging a job only after its
// handler returns without error.
//
// Results are immutable execute contracts whose slug is derived from the
// request id, so a request can be answered at most once. WaitResults
// blocks on a change stream rather than polling.
package queue
