package actions

import (
	"context"
	"fmt"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
	"github.com/nazar-pal/breadly-sub000/internal/store"
)

type defaultRow struct {
	name string
	kind string
}

var defaultCategories = []defaultRow{
	{"Food", "expense"},
	{"Transport", "expense"},
	{"Housing", "expense"},
	{"Health", "expense"},
	{"Entertainment", "expense"},
	{"Salary", "income"},
}

var defaultAccounts = []defaultRow{
	{"Cash", "payment"},
	{"Card", "payment"},
	{"Savings", "saving"},
}

// DefaultRowCount is how many rows seeding creates for a new identity.
var DefaultRowCount = len(defaultCategories) + len(defaultAccounts) + 1

func (e *Executor) seed(ctx context.Context, st lifecycle.SeedingGuest) (lifecycle.Event, error) {
	seeded, err := SeedDefaults(ctx, e.deps.Storage, e.deps.IDs, st.UserID)
	if err != nil {
		return nil, err
	}
	if !seeded {
		e.logger.Info("identity already has data, skipping seed", "user_id", st.UserID)
	}
	return lifecycle.SeedingComplete{}, nil
}

// SeedDefaults inserts the default categories, accounts and preferences for
// userID in one transaction. It does nothing and returns false when userID
// already owns rows, so it is safe to re-run after a crash.
func SeedDefaults(ctx context.Context, s Storage, ids IDGenerator, userID string) (bool, error) {
	seeded := false
	err := s.Update(ctx, func(tx *store.Tx) error {
		n, err := tx.CountOwned(ctx, userID)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		for _, c := range defaultCategories {
			row := store.Row{"id": ids.Generate(), "user_id": userID, "name": c.name, "type": c.kind}
			if err := tx.InsertRow(ctx, "categories", row); err != nil {
				return err
			}
		}
		for _, a := range defaultAccounts {
			row := store.Row{"id": ids.Generate(), "user_id": userID, "name": a.name, "type": a.kind}
			if err := tx.InsertRow(ctx, "accounts", row); err != nil {
				return err
			}
		}
		if err := tx.InsertRow(ctx, "user_preferences", store.Row{"user_id": userID}); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("seed defaults: %w", err)
	}
	return seeded, nil
}
