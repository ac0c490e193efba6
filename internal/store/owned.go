package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ownedTable describes a table whose rows belong to one user.
type ownedTable struct {
	name string
	// key is the SQL expression identifying a row, evaluated against NEW
	// or OLD inside sync triggers.
	key string
}

// ownedTables lists every owned table in dependency order. Guest migration
// walks them in this order inside one transaction.
var ownedTables = []ownedTable{
	{name: "categories", key: "%s.id"},
	{name: "accounts", key: "%s.id"},
	{name: "transactions", key: "%s.id"},
	{name: "budgets", key: "%s.id"},
	{name: "events", key: "%s.id"},
	{name: "attachments", key: "%s.id"},
	{name: "transaction_attachments", key: "%[1]s.transaction_id || ':' || %[1]s.attachment_id"},
	{name: "user_preferences", key: "%s.user_id"},
}

// writableTables are the tables InsertRow accepts.
var writableTables = map[string]bool{
	"currencies":       true,
	"currencies_local": true,
}

func init() {
	for _, t := range ownedTables {
		writableTables[t.name] = true
	}
}

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// OwnedTables returns the names of the tables that carry a user_id.
func OwnedTables() []string {
	names := make([]string, len(ownedTables))
	for i, t := range ownedTables {
		names[i] = t.name
	}
	return names
}

// Row is a column-to-value map for InsertRow.
type Row map[string]any

// Tx is a store transaction handed to Update callbacks.
type Tx struct {
	tx *sql.Tx
}

// InsertRow inserts one row into a managed table.
func (t *Tx) InsertRow(ctx context.Context, table string, row Row) error {
	if !writableTables[table] {
		return fmt.Errorf("insert row: %w: %q", ErrUnknownTable, table)
	}
	if len(row) == 0 {
		return fmt.Errorf("insert row into %s: no columns", table)
	}

	cols := make([]string, 0, len(row))
	for col := range row {
		if !columnName.MatchString(col) {
			return fmt.Errorf("insert row into %s: invalid column %q", table, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = row[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert row into %s: %w", table, err)
	}
	return nil
}

// CountOwned returns how many rows across all owned tables belong to owner.
func (t *Tx) CountOwned(ctx context.Context, owner string) (int, error) {
	return countOwned(ctx, t.tx, owner)
}

// ReassignOwner moves every owned row from one user to another and returns
// the number of rows moved. When both users have a user_preferences row the
// target's row is kept and the source's row is deleted.
func (t *Tx) ReassignOwner(ctx context.Context, from, to string) (int64, error) {
	var moved int64
	for _, table := range ownedTables {
		stmt := fmt.Sprintf("UPDATE %s SET user_id = ? WHERE user_id = ?", table.name)
		if table.name == "user_preferences" {
			stmt = "UPDATE OR IGNORE user_preferences SET user_id = ? WHERE user_id = ?"
		}
		res, err := t.tx.ExecContext(ctx, stmt, to, from)
		if err != nil {
			return 0, fmt.Errorf("reassign %s: %w", table.name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reassign %s: %w", table.name, err)
		}
		moved += n
	}

	if _, err := t.tx.ExecContext(ctx, "DELETE FROM user_preferences WHERE user_id = ?", from); err != nil {
		return 0, fmt.Errorf("drop leftover preferences: %w", err)
	}
	return moved, nil
}

// CountOwned returns how many rows across all owned tables belong to owner.
func (s *Store) CountOwned(ctx context.Context, owner string) (int, error) {
	return countOwned(ctx, s.db, owner)
}

// ReassignOwner moves every owned row from one user to another in a single
// transaction. Either every table is reassigned or none is.
func (s *Store) ReassignOwner(ctx context.Context, from, to string) (int64, error) {
	var moved int64
	err := s.Update(ctx, func(tx *Tx) error {
		n, err := tx.ReassignOwner(ctx, from, to)
		moved = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// ClearSyncedData deletes every owned row, the synced reference data and
// the upload queue in one transaction. Local-only reference data survives.
func (s *Store) ClearSyncedData(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error {
		tables := append(OwnedTables(), "currencies", "upload_queue")
		for _, name := range tables {
			if _, err := tx.tx.ExecContext(ctx, "DELETE FROM "+name); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
		}
		return nil
	})
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countOwned(ctx context.Context, q querier, owner string) (int, error) {
	parts := make([]string, len(ownedTables))
	args := make([]any, len(ownedTables))
	for i, t := range ownedTables {
		parts[i] = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE user_id = ?", t.name)
		args[i] = owner
	}
	query := "SELECT " + strings.Join(wrap(parts), " + ")

	var total int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count owned rows: %w", err)
	}
	return total, nil
}

func wrap(subqueries []string) []string {
	out := make([]string, len(subqueries))
	for i, q := range subqueries {
		out[i] = "(" + q + ")"
	}
	return out
}
