package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/store"
)

// migrate moves every owned row from the guest to the authenticated user in
// one transaction, then waits for the user's entitlement to be verified so
// MigrationComplete carries a trustworthy flag.
func (e *Executor) migrate(ctx context.Context, st lifecycle.MigratingGuestToAuth) (lifecycle.Event, error) {
	var moved int64
	err := e.deps.Storage.Update(ctx, func(tx *store.Tx) error {
		n, err := tx.ReassignOwner(ctx, st.GuestID, st.AuthID)
		moved = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reassign guest rows: %w", err)
	}
	e.logger.Info("migrated guest data", "guest_id", st.GuestID, "user_id", st.AuthID, "rows", moved)

	verifyCtx, cancel := context.WithTimeout(ctx, e.verifyTimeout)
	defer cancel()
	entitled, err := e.deps.Entitlements.AwaitVerified(verifyCtx, st.AuthID)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		e.logger.Warn("entitlement not verified in time, continuing local-only", "user_id", st.AuthID)
		entitled = false
	default:
		return nil, fmt.Errorf("await entitlement: %w", err)
	}

	return lifecycle.MigrationComplete{IsPremium: entitled}, nil
}
