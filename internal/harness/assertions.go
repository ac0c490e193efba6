package harness

import (
	"fmt"
	"strings"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", event.Line())
	}
	return buf.String()
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(r, a)
	case AssertTraceOrder:
		return assertTraceOrder(r.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(r.Trace, a)
	case AssertMode:
		if got := lifecycle.ModeOf(r.Final); got != a.Mode {
			return &AssertionError{Type: a.Type, Expected: string(a.Mode), Actual: string(got), Trace: r.Trace}
		}
		return nil
	case AssertSyncActive:
		if got := lifecycle.IsSyncActive(r.Final); got != *a.SyncActive {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%t", *a.SyncActive),
				Actual:   fmt.Sprintf("%t", got),
				Trace:    r.Trace,
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertFinalState compares encoded forms so timestamps match by instant.
func assertFinalState(r *Result, a Assertion) error {
	want, err := decodeState(a.State)
	if err != nil {
		return err
	}
	gotJSON, err := lifecycle.MarshalState(r.Final)
	if err != nil {
		return err
	}
	wantJSON, err := lifecycle.MarshalState(want)
	if err != nil {
		return err
	}
	if string(gotJSON) != string(wantJSON) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: want.String(),
			Actual:   r.Final.String(),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the kinds are entered in order. Other
// transitions may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, e := range trace {
		if next == len(a.Kinds) {
			break
		}
		if e.To != e.From && e.To.Kind() == a.Kinds[next] {
			next++
		}
	}
	if next < len(a.Kinds) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
			Actual:   fmt.Sprintf("missing %s after position %d", a.Kinds[next], next),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks how often kind is entered. Ignored events do not
// count as entering.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.To != e.From && e.To.Kind() == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s entered %d times", a.Kind, a.Count),
			Actual:   fmt.Sprintf("%d times", count),
			Trace:    trace,
		}
	}
	return nil
}
