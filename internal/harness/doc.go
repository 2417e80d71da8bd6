// Package harness runs conformance scenarios against the event store.
//
// A scenario opens a fresh in-memory store, registers change observers,
// executes a list of steps and then evaluates assertions on the trace, the
// observed notifications and the final rows.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: record_and_sync
//	description: "What this scenario validates"
//	layout: unified
//	observe:
//	  - org.pixmob.freemobile.netstat/events
//	steps:
//	  - op: insert
//	    uri: org.pixmob.freemobile.netstat/events
//	    values: {timestamp: $now, mobile_enabled: true, ...}
//	    expect: {id: 1}
//	  - op: update
//	    uri: org.pixmob.freemobile.netstat/event/1
//	    values: {sync_status: 1}
//	    expect: {count: 1}
//	  - op: batch
//	    operations:
//	      - {op: delete, uri: ..., where: [{field: sync_status, op: "=", value: 1}]}
//	assertions:
//	  - type: row_count
//	    uri: org.pixmob.freemobile.netstat/events
//	    count: 0
//
// Step operations are insert, update, delete, query and batch. Where
// clauses and batch operations use the batch document format. The string
// "$now" in any value is replaced by the next tick of the scenario clock.
//
// # Assertion Types
//
//   - trace_count: the number of steps with the given op
//   - row_count: the number of rows at uri matching where
//   - final_state: exactly one row at uri matches where, with the expected values
//   - notified: the number of changes the observer on prefix received
//
// # Deterministic Testing
//
// Every run uses testutil.DeterministicClock for "$now", a fresh in-memory
// database and the observers' sequence numbers, so the trace of a scenario
// is byte-identical across runs and can be compared with a golden file.
package harness
