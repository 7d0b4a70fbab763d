package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "item store",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    partition TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'general',
    language TEXT NOT NULL DEFAULT '',
    polarity TEXT NOT NULL DEFAULT '',
    tone TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0.5,
    timestamp TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    audio_path TEXT NOT NULL DEFAULT '',
    priority_score REAL NOT NULL DEFAULT 0,
    trend_score REAL NOT NULL DEFAULT 0,
    reward_score REAL,
    requeue_requested INTEGER NOT NULL DEFAULT 0,
    queue_requested INTEGER NOT NULL DEFAULT 0,
    queued_at TEXT,
    demoted INTEGER NOT NULL DEFAULT 0,
    demoted_at TEXT,
    skip INTEGER NOT NULL DEFAULT 0,
    skipped_at TEXT,
    escalated INTEGER NOT NULL DEFAULT 0,
    escalated_at TEXT,
    revision INTEGER NOT NULL DEFAULT 1,
    ingested_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_partition ON items(partition);
CREATE INDEX IF NOT EXISTS idx_items_category ON items(partition, category);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "provenance ledger",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS ledger (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT UNIQUE NOT NULL,
    recorded_at TEXT NOT NULL,
    stage TEXT NOT NULL,
    item_id TEXT NOT NULL,
    payload TEXT,
    reward REAL,
    content_hash TEXT NOT NULL,
    prev_chain_hash TEXT NOT NULL,
    chain_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_head (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    seq INTEGER NOT NULL,
    chain_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_item ON ledger(item_id);
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "feed snapshots",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS feed_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    partition TEXT NOT NULL,
    item_count INTEGER NOT NULL DEFAULT 0,
    items TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
