package harness

import (
	"fmt"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
)

// Run replays scenario through lifecycle.Transition and evaluates its
// assertions. The returned error reports a scenario that cannot be replayed
// at all; failed expectations are recorded in Result.
func Run(scenario *Scenario) (*Result, error) {
	var state lifecycle.State = lifecycle.Uninitialized{}
	if scenario.Initial != nil {
		s, err := decodeState(scenario.Initial)
		if err != nil {
			return nil, fmt.Errorf("initial state: %w", err)
		}
		state = s
	}

	result := NewResult(state)
	for i, step := range scenario.Steps {
		entry := TraceEvent{Step: i + 1, From: state}

		if step.Event != nil {
			ev, err := decodeEvent(step.Event)
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: %w", i, err)
			}
			entry.Source = SourceEvent
			entry.Event = ev
		} else {
			entry.Source = SourceDerived
			if ev, ok := lifecycle.Derive(state, step.Conditions.toLifecycle()); ok {
				entry.Event = ev
			}
		}

		if entry.Event != nil {
			state = lifecycle.Transition(state, entry.Event)
		}
		entry.To = state
		result.Trace = append(result.Trace, entry)

		if step.Expect != "" && state.Kind() != step.Expect {
			result.AddError(fmt.Sprintf("step %d: expected %s, got %s", i+1, step.Expect, state))
		}
	}
	result.Final = state

	for _, a := range scenario.Assertions {
		if err := evaluate(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}
