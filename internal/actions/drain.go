package actions

import (
	"context"
	"fmt"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
)

// drain polls the upload queue until it is empty or the budget measured
// from st.StartedAt runs out. Running out is not a failure: it resolves
// QueueDrainTimeout so sync can still be disabled.
func (e *Executor) drain(ctx context.Context, st lifecycle.DrainingUploadQueue) (lifecycle.Event, error) {
	start := st.StartedAt
	if start.IsZero() {
		start = e.clock.Now()
	}
	deadline := start.Add(e.drainTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pending, err := e.deps.Backend.PendingCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("count pending uploads: %w", err)
		}
		if pending == 0 {
			e.logger.Info("upload queue drained", "user_id", st.UserID)
			return lifecycle.QueueDrained{}, nil
		}

		now := e.clock.Now()
		remaining := deadline.Sub(now)
		if e.onDrainProgress != nil {
			e.onDrainProgress(DrainProgress{Pending: pending, Elapsed: now.Sub(start), Remaining: max(remaining, 0)})
		}
		if remaining <= 0 {
			e.logger.Warn("upload queue drain timed out", "user_id", st.UserID, "pending", pending)
			if e.onDrainTimeout != nil {
				e.onDrainTimeout(pending)
			}
			return lifecycle.QueueDrainTimeout{}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.clock.After(min(e.drainPoll, remaining)):
		}
	}
}
