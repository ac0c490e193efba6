// Package harness replays lifecycle scenarios through the reducer.
//
// A scenario is a YAML file describing a starting state and a list of
// steps. Each step either applies an explicit event or derives one from a
// conditions snapshot, exactly as the orchestrator would, and may state the
// kind it expects to land in. Assertions then check the resulting trace.
//
// # Scenario Format
//
//	name: guest_upgrade
//	description: "A guest signs in with an active subscription"
//	initial: { kind: local_only, user_id: guest-1, is_guest: true }
//	steps:
//	  - conditions: { user_id: alice, entitlement_verified: true, is_premium: true }
//	    expect: migrating_guest_to_auth
//	  - event: { type: migration_complete, is_premium: true }
//	    expect: switching_to_sync
//	assertions:
//	  - type: final_state
//	    state: { kind: switching_to_sync, user_id: alice }
//
// Events and states use the JSON shapes of lifecycle.MarshalEvent and
// lifecycle.MarshalState.
//
// # Assertion Types
//
//   - final_state: the last state equals state
//   - trace_order: the listed kinds are entered in order
//   - trace_count: kind is entered exactly count times
//   - mode: the final mode equals mode
//   - sync_active: the final IsSyncActive equals sync_active
//
// # Golden Traces
//
// RunWithGolden renders the trace as one line per step and compares it with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
