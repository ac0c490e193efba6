package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/nazar-pal/breadly-sub000/internal/clock"
)

// DefaultRefreshInterval is how often a verified entitlement is re-checked.
const DefaultRefreshInterval = 5 * time.Minute

// retryInterval is used instead while the entitlement is unverified.
const retryInterval = 5 * time.Second

// Refresher re-checks the entitlement periodically. It is a supervisor
// runnable.
type Refresher struct {
	service  *Service
	interval time.Duration
	clock    clock.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRefresher returns a Refresher for s.
func NewRefresher(s *Service, interval time.Duration, clk clock.Clock) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Refresher{service: s, interval: interval, clock: clk}
}

// Run refreshes until ctx is cancelled or Stop is called.
func (r *Refresher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	for {
		wait := r.interval
		if !r.service.Snapshot().Verified && wait > retryInterval {
			wait = retryInterval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(wait):
		}
		if err := r.service.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.service.logger.Warn("entitlement refresh failed", "error", err)
		}
	}
}

// Stop ends Run.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Refresher) String() string { return "entitlement.Refresher" }
