// Package harness runs reconciliation scenarios end to end.
//
// A scenario declares hooks (CUE, inline or from a file), engine settings
// and a feed of deltas. The harness runs them through a real engine backed
// by an in-memory provenance store, records every fiber result and commit
// as a trace, replays the committed log, and evaluates assertions.
//
// # Scenario Format
//
//	name: adult_check
//	description: "exists and compare hooks on one domain"
//	budget: 8
//	domains: 1
//	shards: 1
//	hooks: |
//	  hooks: {
//	    "has-name": {id: 1, predicate: 100, kind: "exists"}
//	    "adult":    {id: 2, predicate: 200, kind: "compare", threshold: 18, op: "ge"}
//	  }
//	feed:
//	  - domain: 0
//	    rows:
//	      - {s: 1, p: 100, o: 5}
//	      - {s: 2, p: 200, o: 30}
//	assertions:
//	  - type: action_outcome
//	    domain: 0
//	    lane: 1
//	    outcome: compared
//	  - type: replay_ok
//
// A feed step without a cycle is submitted at the next free cycle; with a
// cycle it is enqueued at exactly that cycle.
//
// # Assertion Types
//
//   - trace_count: the trace has exactly count events of a type
//     (optionally filtered by cause and domain)
//   - action_outcome: a reconciled event emitted outcome at lane
//   - tick_cost: a reconciled event charged exactly cost
//   - replay_ok: replaying the committed log reproduced every tick and the
//     provenance chain verified
//
// # Deterministic Testing
//
// The run ID is fixed (scenario.run_id, default "test-run"), the beat is the
// only clock, and each scenario gets a fresh in-memory database, so traces
// are identical across runs and can be compared against golden files.
package harness
