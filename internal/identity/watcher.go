package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nazar-pal/breadly-sub000/internal/clock"
)

// DefaultPollInterval is how often Watcher re-reads the persisted session.
const DefaultPollInterval = 2 * time.Second

// Watcher polls the Provider so sessions written by another process are
// noticed. It is a supervisor runnable.
type Watcher struct {
	provider *Provider
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWatcher returns a Watcher polling at interval (DefaultPollInterval when
// zero).
func NewWatcher(p *Provider, interval time.Duration, clk clock.Clock) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Watcher{provider: p, interval: interval, clock: clk, logger: p.logger}
}

// Run polls until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.interval):
		}
		if _, err := w.provider.Refresh(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("identity refresh failed", "error", err)
		}
	}
}

// Stop ends Run.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) String() string { return "identity.Watcher" }
