package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveSnapshot stores a ranked feed and returns its ID.
func (db *DB) SaveSnapshot(ctx context.Context, partition string, items []Item) (int64, error) {
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO feed_snapshots (partition, item_count, items, created_at) VALUES (?, ?, ?, ?)`,
		partition, len(items), string(data), formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("storing snapshot: %w", err)
	}
	return res.LastInsertId()
}

// LatestSnapshot returns the most recently stored feed, or ErrNotFound.
func (db *DB) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var (
		s       Snapshot
		data    string
		created string
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, partition, items, created_at FROM feed_snapshots ORDER BY id DESC LIMIT 1",
	).Scan(&s.ID, &s.Partition, &data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	if s.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("snapshot %d created_at: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(data), &s.Items); err != nil {
		return nil, fmt.Errorf("decoding snapshot %d: %w", s.ID, err)
	}
	return &s, nil
}
