package orchestrator

import (
	"sync"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
)

// eventQueue is a thread-safe FIFO of explicitly dispatched events.
//
// Callers on any goroutine enqueue; only the Run loop dequeues. The signal
// channel (buffered, size 1) lets the loop wait in a select alongside its
// other inputs.
type eventQueue struct {
	mu     sync.Mutex
	events []lifecycle.Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]lifecycle.Event, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue. Returns false once the
// queue is closed.
func (q *eventQueue) Enqueue(e lifecycle.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (lifecycle.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	e := q.events[0]
	q.events[0] = nil
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events. Events already queued are dropped by the
// stopped loop.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
