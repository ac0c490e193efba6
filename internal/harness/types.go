package harness

import (
	"fmt"
	"strings"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
)

// Trace sources.
const (
	SourceEvent   = "event"
	SourceDerived = "derived"
)

// TraceEvent is one replayed step.
type TraceEvent struct {
	Step   int
	Source string
	// Event is nil when a conditions step derived nothing.
	Event lifecycle.Event
	From  lifecycle.State
	To    lifecycle.State
}

// Line renders the step for golden comparison.
func (e TraceEvent) Line() string {
	name := "none"
	if e.Event != nil {
		name = string(e.Event.Type())
	}
	return fmt.Sprintf("step=%d source=%s event=%s from=%s to=%s", e.Step, e.Source, name, e.From, e.To)
}

// Result is the outcome of a scenario replay.
type Result struct {
	// Pass is false when any expect clause or assertion failed.
	Pass   bool
	Trace  []TraceEvent
	Errors []string
	Final  lifecycle.State
}

// NewResult creates a passing result starting from initial.
func NewResult(initial lifecycle.State) *Result {
	return &Result{Pass: true, Final: initial}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Render returns the golden text of the trace.
func (r *Result) Render(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, e := range r.Trace {
		b.WriteString(e.Line())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "final: %s mode=%s sync_active=%t\n", r.Final, lifecycle.ModeOf(r.Final), lifecycle.IsSyncActive(r.Final))
	return b.String()
}
