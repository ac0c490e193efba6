// Package clock abstracts wall time and logical sequence numbers so the
// orchestrator and its actions can be driven deterministically in tests.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the source of wall time for timeouts and polling.
type Clock interface {
	Now() time.Time
	// After delivers the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// System is the Clock backed by the runtime.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sequence is a monotonic logical counter. The orchestrator stamps every
// committed transition with the next value, so subscribers can order
// transitions without comparing wall time.
//
// Sequence is safe for concurrent use.
type Sequence struct {
	seq atomic.Int64
}

// NewSequenceAt returns a Sequence whose next value is start+1.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last value handed out, or the start value.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
