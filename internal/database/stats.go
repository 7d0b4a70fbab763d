package database

import (
	"context"
	"database/sql"
	"fmt"
)

// GetStats returns aggregate database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM items", &s.TotalItems},
		{"SELECT COUNT(DISTINCT partition) FROM items", &s.Partitions},
		{"SELECT COUNT(*) FROM items WHERE queue_requested = 1", &s.Queued},
		{"SELECT COUNT(*) FROM items WHERE skip = 1", &s.Skipped},
		{"SELECT COUNT(*) FROM items WHERE demoted = 1", &s.Demoted},
		{"SELECT COUNT(*) FROM items WHERE escalated = 1", &s.Escalated},
		{"SELECT COUNT(*) FROM items WHERE requeue_requested = 1", &s.RequeueRequested},
	}

	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("reading stats: %w", err)
		}
	}

	head, _, err := db.LedgerHead(ctx)
	if err != nil {
		return nil, err
	}
	s.LedgerHead = head
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger").Scan(&s.LedgerRecords); err != nil {
		return nil, fmt.Errorf("counting ledger: %w", err)
	}

	var last sql.NullString
	if err := db.conn.QueryRowContext(ctx, "SELECT MAX(created_at) FROM feed_snapshots").Scan(&last); err != nil {
		return nil, fmt.Errorf("reading last snapshot: %w", err)
	}
	s.LastSnapshot = scanTime(last)

	return s, nil
}
