// Package harness runs end-to-end scenarios against a real worker.
//
// Each scenario gets a fresh in-memory store, a fake wall clock and a
// sequential id generator, so the executions it causes are reproducible
// and can be compared against golden traces.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: invoice_total
//	description: "Linking line items recomputes the invoice total"
//	start: 2024-03-01T12:00:00Z
//	specs:
//	  - ../specs/invoices
//	steps:
//	  - insert: { type: invoice@1.0.0, slug: invoice-1 }
//	  - link: { from: invoice-1, verb: has line item, to: line-1 }
//	  - enqueue: { action: action-update-card@1.0.0, card: invoice-1, arguments: { patch: [] } }
//	  - drain: {}
//	  - advance: 1h
//	  - tick: {}
//	assertions:
//	  - type: card
//	    card: invoice-1
//	    data: { total: 190 }
//	  - type: trace_count
//	    action: action-update-card@1.0.0
//	    count: 4
//
// Specs are directories of CUE definitions, resolved relative to the
// scenario file, compiled and installed before the first step. Card
// references are slugs, with "@1.0.0" implied when no version is given.
//
// # Steps
//
//   - insert: creates a card of a type
//   - patch: applies an RFC 6902 patch to a card
//   - link: links two cards by verb
//   - delete: deactivates a card
//   - enqueue: queues an action request as the admin actor
//   - drain: runs every due job
//   - tick: runs one scheduler tick at the current time
//   - advance: moves the clock forward by a Go duration
//
// A step may name the failure it expects in error; the step then fails
// unless it returns that failure.
//
// # Assertion Types
//
//   - card: the card's data contains data; active matches when given
//   - contracts: the number of active contracts of a type
//   - jobs: the number of jobs left in the queue
//   - trace_contains: some execution ran action, on card and with error
//     when given
//   - trace_order: actions executed in the given order
//   - trace_count: action executed exactly count times
package harness
