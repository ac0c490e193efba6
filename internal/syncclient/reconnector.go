package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/nazar-pal/breadly-sub000/internal/clock"
)

// DefaultReconnectInterval is how often a lost connection is retried.
const DefaultReconnectInterval = 10 * time.Second

// Reconnector periodically calls Client.Reconnect. It is a supervisor
// runnable.
type Reconnector struct {
	client   *Client
	interval time.Duration
	clock    clock.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewReconnector returns a Reconnector for c.
func NewReconnector(c *Client, interval time.Duration, clk clock.Clock) *Reconnector {
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Reconnector{client: c, interval: interval, clock: clk}
}

// Run retries until ctx is cancelled or Stop is called.
func (r *Reconnector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(r.interval):
		}
		if err := r.client.Reconnect(ctx); err != nil && ctx.Err() == nil {
			r.client.logger.Warn("sync reconnect failed", "error", err)
		}
	}
}

// Stop ends Run.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconnector) String() string { return "syncclient.Reconnector" }
