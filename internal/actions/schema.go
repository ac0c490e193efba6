package actions

import (
	"context"
	"fmt"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/store"
)

// switchToSync installs the sync variant, then connects. A failed connect
// does not fail the switch; the client keeps retrying on its own.
func (e *Executor) switchToSync(ctx context.Context, st lifecycle.SwitchingToSync) (lifecycle.Event, error) {
	if err := e.deps.Storage.SetVariant(ctx, store.VariantSync); err != nil {
		return nil, fmt.Errorf("install sync schema: %w", err)
	}
	if err := e.deps.Backend.Connect(ctx, st.UserID); err != nil {
		e.logger.Warn("sync backend connect failed, will retry", "user_id", st.UserID, "error", err)
	}
	return lifecycle.SchemaSwitchComplete{}, nil
}

// switchToLocal disconnects, restores the local variant and makes sure the
// local reference data is usable offline.
func (e *Executor) switchToLocal(ctx context.Context, st lifecycle.SwitchingToLocal) (lifecycle.Event, error) {
	if err := e.deps.Backend.Disconnect(ctx); err != nil {
		e.logger.Warn("sync backend disconnect failed", "user_id", st.UserID, "error", err)
	}
	if err := e.deps.Storage.SetVariant(ctx, store.VariantLocal); err != nil {
		return nil, fmt.Errorf("install local schema: %w", err)
	}
	if err := e.ensureReferenceData(ctx); err != nil {
		return nil, err
	}
	return lifecycle.SchemaSwitchComplete{}, nil
}

func (e *Executor) ensureReferenceData(ctx context.Context) error {
	copied, err := e.deps.Storage.CopyReferenceData(ctx)
	if err != nil {
		return err
	}
	n, err := e.deps.Storage.ReferenceCount(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := e.deps.Storage.SeedReferenceData(ctx); err != nil {
			return err
		}
		e.logger.Info("seeded local reference data")
		return nil
	}
	e.logger.Debug("copied reference data", "rows", copied)
	return nil
}
