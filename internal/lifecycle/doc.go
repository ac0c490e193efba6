// Package lifecycle defines the sync-lifecycle state machine.
//
// The package is pure: it holds the closed set of states and events, the
// guard predicates, the Transition reducer and the Derive function that maps
// a snapshot of external conditions to at most one event. Nothing here
// performs I/O, reads the wall clock or keeps hidden state, so every function
// can be called from any goroutine.
//
// STATES:
//
// Steady states (LocalOnly, Synced) and waiting states (Uninitialized,
// Initializing, Error) never run side effects. Acting states (SeedingGuest,
// MigratingGuestToAuth, SwitchingToSync, DrainingUploadQueue,
// SwitchingToLocal, SigningOut) each own exactly one side effect, executed
// by package actions and resolved into the next event.
//
// TRANSITIONS:
//
// Transition is total. An event a state does not handle returns the state
// unchanged; events routinely race with in-flight transitions and a late
// event must be dropped, not rejected.
//
// Every State and Event value is comparable with ==, which the orchestrator
// relies on to detect no-op transitions.
package lifecycle
