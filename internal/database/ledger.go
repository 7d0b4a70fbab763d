package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/feedrank/internal/provenance"
)

const ledgerColumns = `seq, event_id, recorded_at, stage, item_id, payload, reward,
	content_hash, prev_chain_hash, chain_hash`

// AppendLedger seals rec against the current head and appends it.
func (db *DB) AppendLedger(ctx context.Context, rec *provenance.Record) error {
	db.ledgerMu.Lock()
	defer db.ledgerMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger append: %w", err)
	}
	defer tx.Rollback()

	if err := appendTx(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger append: %w", err)
	}
	return nil
}

// appendTx seals and inserts rec, then moves the head pointer.
// Callers must hold ledgerMu.
func appendTx(ctx context.Context, tx *sql.Tx, rec *provenance.Record) error {
	head, _, err := readHead(ctx, tx)
	if err != nil {
		return err
	}

	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	rec.RecordedAt = rec.RecordedAt.UTC()

	if err := provenance.Seal(rec, head); err != nil {
		return fmt.Errorf("sealing ledger record: %w", err)
	}

	var payload any
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger (event_id, recorded_at, stage, item_id, payload, reward,
		content_hash, prev_chain_hash, chain_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.RecordedAt.Format(provenance.TimeFormat), rec.Stage, rec.ItemID, payload,
		nullFloat(rec.Reward), rec.ContentHash, rec.PrevChainHash, rec.ChainHash,
	)
	if err != nil {
		return fmt.Errorf("inserting ledger record: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading ledger sequence: %w", err)
	}
	rec.Seq = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_head (id, seq, chain_hash) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET seq = excluded.seq, chain_hash = excluded.chain_hash`,
		seq, rec.ChainHash,
	)
	if err != nil {
		return fmt.Errorf("moving ledger head: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readHead(ctx context.Context, q queryRower) (string, int64, error) {
	var (
		hash string
		seq  int64
	)
	err := q.QueryRowContext(ctx, "SELECT chain_hash, seq FROM ledger_head WHERE id = 1").Scan(&hash, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return provenance.Genesis, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("reading ledger head: %w", err)
	}
	return hash, seq, nil
}

// LedgerHead returns the chain hash and sequence of the newest record.
// An empty ledger reports the genesis hash and sequence 0.
func (db *DB) LedgerHead(ctx context.Context) (string, int64, error) {
	return readHead(ctx, db.conn)
}

// LedgerRecords returns the whole ledger in append order.
func (db *DB) LedgerRecords(ctx context.Context) ([]provenance.Record, error) {
	return db.queryLedger(ctx, "SELECT "+ledgerColumns+" FROM ledger ORDER BY seq")
}

// LedgerForItem returns the records for one item in append order.
func (db *DB) LedgerForItem(ctx context.Context, itemID string) ([]provenance.Record, error) {
	return db.queryLedger(ctx, "SELECT "+ledgerColumns+" FROM ledger WHERE item_id = ? ORDER BY seq", itemID)
}

// RecentRewards returns up to n of the newest recorded rewards.
func (db *DB) RecentRewards(ctx context.Context, n int) ([]float64, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT reward FROM ledger WHERE reward IS NOT NULL ORDER BY seq DESC LIMIT ?", n,
	)
	if err != nil {
		return nil, fmt.Errorf("reading rewards: %w", err)
	}
	defer rows.Close()

	var rewards []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}

func (db *DB) queryLedger(ctx context.Context, query string, args ...any) ([]provenance.Record, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	defer rows.Close()

	var records []provenance.Record
	for rows.Next() {
		var (
			rec      provenance.Record
			recorded string
			payload  sql.NullString
			reward   sql.NullFloat64
		)
		if err := rows.Scan(&rec.Seq, &rec.EventID, &recorded, &rec.Stage, &rec.ItemID, &payload, &reward,
			&rec.ContentHash, &rec.PrevChainHash, &rec.ChainHash); err != nil {
			return nil, fmt.Errorf("scanning ledger record: %w", err)
		}
		t, err := time.Parse(provenance.TimeFormat, recorded)
		if err != nil {
			return nil, fmt.Errorf("ledger record %d recorded_at: %w", rec.Seq, err)
		}
		rec.RecordedAt = t
		if payload.Valid {
			rec.Payload = json.RawMessage(payload.String)
		}
		if reward.Valid {
			r := reward.Float64
			rec.Reward = &r
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
