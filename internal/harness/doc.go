// Package harness provides conformance testing for sync controllers.
//
// The harness binds records and collections to an in-memory remote tree,
// drives a flow of local and remote mutations, and checks the calls the
// controllers made against the store and the resulting local and remote
// state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	kinds: kinds.cue            # optional, relative to the scenario file
//	keys: [k1, k2]              # optional, generated child keys in order
//	data:                       # initial remote tree
//	  items: { a: { x: 1 } }
//	bind:
//	  - name: rec
//	    type: record            # record | collection
//	    path: items/a
//	    kind: todo              # optional
//	    auto_sync: false        # optional, overrides the kind
//	flow:
//	  - do: set
//	    target: rec
//	    attrs: { b: 2 }
//	  - do: fetch
//	    target: rec
//	    expect:
//	      case: success
//	assertions:
//	  - type: trace_contains
//	    op: patch
//	    path: items/a
//	    value: { b: 2 }
//	  - type: final_state
//	    target: rec
//	    expect: { x: 1, b: 2 }
//
// # Flow Steps
//
// Local steps act on a bound target: set, unset, save, fetch, destroy,
// create, add, remove, reset, sync. Remote steps act directly on the tree
// as a second client would, bypassing the recorder: remote_write,
// remote_patch, remote_delete, deny, allow. The tree is drained after every
// step, so each step observes all deliveries caused by the previous one.
//
// # Assertion Types
//
//   - trace_contains: a recorded call with the given op, path and value
//   - trace_order: recorded calls ("op path") appear in the given order
//   - trace_count: number of recorded calls with an op (default: all writes)
//   - final_state: local state of a target (subset of attributes, or the
//     ordered member ids of a collection) or the remote value at a path
//
// # Deterministic Testing
//
// Every scenario runs against a fresh tree with deterministic keys, taken
// from the scenario's keys list or testutil.SequentialKeys, and single-
// threaded delivery through Tree.Drain. The trace of recorded calls is
// therefore identical across runs and can be compared to golden files.
package harness
