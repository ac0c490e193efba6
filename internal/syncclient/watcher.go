package syncclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nazar-pal/breadly-sub000/internal/clock"
	"github.com/nazar-pal/breadly-sub000/internal/notify"
)

// DefaultQueuePollInterval is how often QueueWatcher counts the queue.
const DefaultQueuePollInterval = 2 * time.Second

// QueueWatcher polls the upload queue size and signals when it crosses
// between empty and non-empty. It is a supervisor runnable.
type QueueWatcher struct {
	queue    Queue
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	pending int
	cancel  context.CancelFunc

	changes notify.Broadcaster
}

// NewQueueWatcher returns a watcher polling at interval
// (DefaultQueuePollInterval when zero).
func NewQueueWatcher(q Queue, interval time.Duration, clk clock.Clock, logger *slog.Logger) *QueueWatcher {
	if interval <= 0 {
		interval = DefaultQueuePollInterval
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueWatcher{queue: q, interval: interval, clock: clk, logger: logger}
}

// Poll counts the queue once.
func (w *QueueWatcher) Poll(ctx context.Context) error {
	n, err := w.queue.PendingUploads(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	crossed := (n > 0) != (w.pending > 0)
	w.pending = n
	w.mu.Unlock()

	if crossed {
		w.changes.Notify()
	}
	return nil
}

// Pending returns the last observed queue size.
func (w *QueueWatcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// Subscribe returns a signal that fires when the queue becomes empty or
// non-empty.
func (w *QueueWatcher) Subscribe() (<-chan struct{}, func()) {
	return w.changes.Subscribe()
}

// Run polls until ctx is cancelled or Stop is called.
func (w *QueueWatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("count upload queue failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.interval):
		}
	}
}

// Stop ends Run.
func (w *QueueWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *QueueWatcher) String() string { return "syncclient.QueueWatcher" }
