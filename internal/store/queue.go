package store

import (
	"context"
	"fmt"
	"strings"
)

// Upload is one captured row change waiting to be sent to the backend.
type Upload struct {
	ID        int64  `json:"id"`
	Table     string `json:"table"`
	RowKey    string `json:"row_key"`
	Op        string `json:"op"`
	CreatedAt string `json:"created_at"`
}

// PendingUploads returns the number of queued changes.
func (s *Store) PendingUploads(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM upload_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending uploads: %w", err)
	}
	return n, nil
}

// NextUploads returns up to limit queued changes, oldest first.
func (s *Store) NextUploads(ctx context.Context, limit int) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_name, row_key, op, created_at
		FROM upload_queue
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read upload queue: %w", err)
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.Table, &u.RowKey, &u.Op, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload queue: %w", err)
	}
	return uploads, nil
}

// AckUploads removes acknowledged changes from the queue. Unknown ids are
// ignored.
func (s *Store) AckUploads(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "DELETE FROM upload_queue WHERE id IN (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ack uploads: %w", err)
	}
	return nil
}
