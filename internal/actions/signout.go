package actions

import (
	"context"
	"fmt"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/store"
)

// signOut tears the session down and mints a fresh guest identity. The new
// guest owns no rows, so re-initialisation routes it through SeedingGuest.
func (e *Executor) signOut(ctx context.Context, st lifecycle.SigningOut) (lifecycle.Event, error) {
	if err := e.deps.Identity.SignOut(ctx); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if err := e.deps.Entitlements.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear entitlement: %w", err)
	}
	if err := e.deps.Backend.DisconnectAndClear(ctx); err != nil {
		return nil, fmt.Errorf("clear synced data: %w", err)
	}
	if err := e.deps.Storage.SetVariant(ctx, store.VariantLocal); err != nil {
		return nil, fmt.Errorf("install local schema: %w", err)
	}

	guestID, err := e.deps.Identity.NewAnonymousID(ctx)
	if err != nil {
		return nil, fmt.Errorf("create anonymous identity: %w", err)
	}
	if err := e.ensureReferenceData(ctx); err != nil {
		return nil, err
	}
	if err := e.deps.Recovery.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear recovery record: %w", err)
	}

	e.logger.Info("signed out", "user_id", st.UserID, "guest_id", guestID)
	return lifecycle.SignOutComplete{GuestID: guestID}, nil
}
