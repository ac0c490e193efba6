package store

import (
	"context"
	"fmt"
)

// Currency is a reference-data row.
type Currency struct {
	Code   string
	Symbol string
	Name   string
}

// DefaultCurrencies seed an empty local reference table.
var DefaultCurrencies = []Currency{
	{Code: "USD", Symbol: "$", Name: "US Dollar"},
	{Code: "EUR", Symbol: "€", Name: "Euro"},
	{Code: "GBP", Symbol: "£", Name: "British Pound"},
	{Code: "UAH", Symbol: "₴", Name: "Ukrainian Hryvnia"},
	{Code: "PLN", Symbol: "zł", Name: "Polish Zloty"},
}

// CopyReferenceData copies synced reference rows into the local-only
// table, keeping rows already present locally. It returns how many rows
// were added.
func (s *Store) CopyReferenceData(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO currencies_local (code, symbol, name)
		SELECT code, symbol, name FROM currencies
	`)
	if err != nil {
		return 0, fmt.Errorf("copy reference data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("copy reference data: %w", err)
	}
	return n, nil
}

// ReferenceCount returns the number of local-only reference rows.
func (s *Store) ReferenceCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM currencies_local").Scan(&n); err != nil {
		return 0, fmt.Errorf("count reference data: %w", err)
	}
	return n, nil
}

// SeedReferenceData fills the local-only reference table with
// DefaultCurrencies. Existing rows are kept.
func (s *Store) SeedReferenceData(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, c := range DefaultCurrencies {
			_, err := tx.tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO currencies_local (code, symbol, name) VALUES (?, ?, ?)",
				c.Code, c.Symbol, c.Name)
			if err != nil {
				return fmt.Errorf("seed reference data: %w", err)
			}
		}
		return nil
	})
}
