package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/feedrank/internal/provenance"
)

const itemColumns = `id, partition, title, category, language, polarity, tone, confidence,
	timestamp, summary, audio_path, priority_score, trend_score, reward_score,
	requeue_requested, queue_requested, queued_at, demoted, demoted_at, skip, skipped_at,
	escalated, escalated_at, revision, ingested_at, updated_at`

// UpsertItems stores ingested items. Existing items keep their scores,
// flags, and stamps; only the ingested fields are replaced.
// Returns the number of newly inserted items.
func (db *DB) UpsertItems(ctx context.Context, items []Item) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	inserted := 0
	for _, it := range items {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE id = ?", it.ID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("checking item %s: %w", it.ID, err)
		}

		if exists == 0 {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO items (id, partition, title, category, language, polarity, tone,
				confidence, timestamp, summary, audio_path, ingested_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				it.ID, it.Partition, it.Title, it.Category, it.Language, it.Polarity, it.Tone,
				it.Confidence, formatTime(it.Timestamp), it.Summary, it.AudioPath, now, now,
			)
			inserted++
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE items SET partition = ?, title = ?, category = ?, language = ?, polarity = ?,
				tone = ?, confidence = ?, timestamp = ?, summary = ?, audio_path = ?,
				revision = revision + 1, updated_at = ?
				WHERE id = ?`,
				it.Partition, it.Title, it.Category, it.Language, it.Polarity,
				it.Tone, it.Confidence, formatTime(it.Timestamp), it.Summary, it.AudioPath,
				now, it.ID,
			)
		}
		if err != nil {
			return 0, fmt.Errorf("storing item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return inserted, nil
}

// GetItem returns a single item by ID, or ErrNotFound.
func (db *DB) GetItem(ctx context.Context, id string) (*Item, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading item %s: %w", id, err)
	}
	return it, nil
}

// ItemsForPartition returns a partition's items in ingestion order.
func (db *DB) ItemsForPartition(ctx context.Context, partition string) ([]Item, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE partition = ? ORDER BY rowid", partition,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Partitions returns all partitions, newest first.
func (db *DB) Partitions(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT DISTINCT partition FROM items ORDER BY partition DESC")
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// LatestPartition returns the newest partition, or "" if there are no items.
func (db *DB) LatestPartition(ctx context.Context) (string, error) {
	var p sql.NullString
	if err := db.conn.QueryRowContext(ctx, "SELECT MAX(partition) FROM items").Scan(&p); err != nil {
		return "", fmt.Errorf("reading latest partition: %w", err)
	}
	return p.String, nil
}

// UpdateScores writes ranker output and clears requeue requests, since
// the items have now been re-scored.
func (db *DB) UpdateScores(ctx context.Context, updates []ScoreUpdate) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin score update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE items SET priority_score = ?, trend_score = ?, requeue_requested = 0,
		revision = revision + 1, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing score update: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.PriorityScore, u.TrendScore, now, u.ID); err != nil {
			return fmt.Errorf("updating scores for %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit score update: %w", err)
	}
	return nil
}

// SaveItem writes back an item read earlier. The write only applies if the
// stored revision still equals it.Revision; otherwise ErrStaleRevision is
// returned. When rec is non-nil it is appended to the ledger in the same
// transaction, so a ledger record exists only for a persisted mutation.
// On success it.Revision and it.UpdatedAt reflect the stored row.
func (db *DB) SaveItem(ctx context.Context, it *Item, rec *provenance.Record) error {
	if rec != nil {
		db.ledgerMu.Lock()
		defer db.ledgerMu.Unlock()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin item save: %w", err)
	}
	defer tx.Rollback()

	updated := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET priority_score = ?, trend_score = ?, reward_score = ?,
		requeue_requested = ?, queue_requested = ?, queued_at = ?,
		demoted = ?, demoted_at = ?, skip = ?, skipped_at = ?,
		escalated = ?, escalated_at = ?,
		revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?`,
		it.PriorityScore, it.TrendScore, nullFloat(it.RewardScore),
		it.RequeueRequested, it.QueueRequested, nullTime(it.QueuedAt),
		it.Demoted, nullTime(it.DemotedAt), it.Skip, nullTime(it.SkippedAt),
		it.Escalated, nullTime(it.EscalatedAt),
		formatTime(updated), it.ID, it.Revision,
	)
	if err != nil {
		return fmt.Errorf("saving item %s: %w", it.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving item %s: %w", it.ID, err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE id = ?", it.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking item %s: %w", it.ID, err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrStaleRevision
	}

	if rec != nil {
		if err := appendTx(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit item save: %w", err)
	}
	it.Revision++
	it.UpdatedAt = updated
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(s rowScanner) (*Item, error) {
	var (
		it                                          Item
		ts, ingested, updated                       string
		reward                                      sql.NullFloat64
		queuedAt, demotedAt, skippedAt, escalatedAt sql.NullString
	)
	err := s.Scan(
		&it.ID, &it.Partition, &it.Title, &it.Category, &it.Language, &it.Polarity, &it.Tone, &it.Confidence,
		&ts, &it.Summary, &it.AudioPath, &it.PriorityScore, &it.TrendScore, &reward,
		&it.RequeueRequested, &it.QueueRequested, &queuedAt, &it.Demoted, &demotedAt, &it.Skip, &skippedAt,
		&it.Escalated, &escalatedAt, &it.Revision, &ingested, &updated,
	)
	if err != nil {
		return nil, err
	}

	if it.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("item %s timestamp: %w", it.ID, err)
	}
	if it.IngestedAt, err = parseTime(ingested); err != nil {
		return nil, fmt.Errorf("item %s ingested_at: %w", it.ID, err)
	}
	if it.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("item %s updated_at: %w", it.ID, err)
	}
	if reward.Valid {
		r := reward.Float64
		it.RewardScore = &r
	}
	it.QueuedAt = scanTime(queuedAt)
	it.DemotedAt = scanTime(demotedAt)
	it.SkippedAt = scanTime(skippedAt)
	it.EscalatedAt = scanTime(escalatedAt)
	return &it, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
