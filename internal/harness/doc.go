// Package harness runs YAML conformance scenarios against the settlement
// engine.
//
// Each scenario loads a catalog file, bootstraps a fresh engine over an
// in-memory store and drives it through a flow of commands. The engine's
// own event log becomes the trace that assertions and golden files check.
//
// # Scenario Format
//
//	name: chest_cascade
//	description: "A chest opens into packs that mint in batches"
//	catalog: catalog.yaml
//	flow_token: t
//	setup:
//	  - action: purchase_chest
//	    args: { sku: rare-chest, buyer: "0xbuyer", quantity: 1 }
//	flow:
//	  - invoke: open
//	    args: { sku: rare-chest, owner: "0xbuyer", quantity: 1 }
//	    expect:
//	      case: ok
//	      result: { quantity: 6 }
//	  - invoke: mint
//	    args: { sku: rare, id: 0 }
//	assertions:
//	  - type: trace_count
//	    kind: pack.mint
//	    count: 2
//	  - type: final_state
//	    table: commitments
//	    where: { sku: rare, id: 0 }
//	    expect: { fulfilled_count: 6 }
//
// Expect cases are "ok" or a domain error kind such as "CAP_EXCEEDED".
// A flow step without an expect clause must succeed.
//
// # Assertion Types
//
//   - trace_contains: an event of the kind exists with a matching payload subset
//   - trace_order: kinds first appear in the given order
//   - trace_count: a kind appears exactly N times
//   - final_state: exactly one table row matches where and carries expect
//
// # Deterministic Testing
//
// Flow tokens come from testutil.SequentialFlowGenerator and wall time from
// testutil.ManualClock, so the same scenario always yields byte-identical
// traces. Signed payments use testutil.MustKey keys named in the step.
package harness
