package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Variant names the active schema variant.
type Variant string

const (
	VariantLocal Variant = "local"
	VariantSync  Variant = "sync"
)

const variantKey = "schema_variant"

var triggerOps = []struct {
	name string
	when string
	row  string
}{
	{name: "insert", when: "AFTER INSERT", row: "NEW"},
	{name: "update", when: "AFTER UPDATE", row: "NEW"},
	{name: "delete", when: "AFTER DELETE", row: "OLD"},
}

// Variant returns the active schema variant. A fresh database is local.
func (s *Store) Variant(ctx context.Context) (Variant, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", variantKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return VariantLocal, nil
	}
	if err != nil {
		return "", fmt.Errorf("read schema variant: %w", err)
	}
	return Variant(v), nil
}

// SetVariant switches the schema variant. Switching to the current variant
// is a no-op that still succeeds.
func (s *Store) SetVariant(ctx context.Context, v Variant) error {
	if v != VariantLocal && v != VariantSync {
		return fmt.Errorf("set schema variant: unknown variant %q", v)
	}

	return s.Update(ctx, func(tx *Tx) error {
		for _, table := range ownedTables {
			for _, op := range triggerOps {
				name := fmt.Sprintf("sync_%s_%s", table.name, op.name)
				stmt := "DROP TRIGGER IF EXISTS " + name
				if v == VariantSync {
					stmt = fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s %s ON %s BEGIN
						INSERT INTO upload_queue (table_name, row_key, op) VALUES ('%s', %s, '%s');
					END`, name, op.when, table.name, table.name, fmt.Sprintf(table.key, op.row), op.name)
				}
				if _, err := tx.tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("set schema variant %s: %w", v, err)
				}
			}
		}

		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, variantKey, string(v))
		if err != nil {
			return fmt.Errorf("record schema variant: %w", err)
		}
		return nil
	})
}
