// Package provenance implements the hash chain behind the feedback ledger.
//
// Each record carries a content hash over its own canonical payload and a
// chain hash linking it to its predecessor:
//
//	content_hash = sha256(canonical(record))
//	chain_hash   = sha256(prev_chain_hash ++ content_hash)
//
// The first record links to Genesis.
package provenance

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Genesis is the previous chain hash of the first record.
var Genesis = strings.Repeat("0", sha256.Size*2)

// Record is one ledger entry.
type Record struct {
	Seq           int64           `json:"seq"`
	EventID       string          `json:"event_id"`
	RecordedAt    time.Time       `json:"recorded_at"`
	Stage         string          `json:"stage"`
	ItemID        string          `json:"item_id"`
	Payload       json.RawMessage `json:"payload"`
	Reward        *float64        `json:"reward,omitempty"`
	ContentHash   string          `json:"content_hash"`
	PrevChainHash string          `json:"prev_chain_hash"`
	ChainHash     string          `json:"chain_hash"`
}

// TimeFormat is the layout recorded_at is hashed and stored with.
const TimeFormat = time.RFC3339Nano

// Canonicalize renders v as JSON with object keys in sorted order.
// Numbers keep their literal form.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-marshaling payload: %w", err)
	}
	return out, nil
}

// ContentHash hashes the canonical form of the record's own fields.
// Sequence number and chain links are excluded.
func ContentHash(r *Record) (string, error) {
	doc := map[string]any{
		"event_id":    r.EventID,
		"recorded_at": r.RecordedAt.UTC().Format(TimeFormat),
		"stage":       r.Stage,
		"item_id":     r.ItemID,
		"payload":     r.Payload,
	}
	if len(r.Payload) == 0 {
		doc["payload"] = nil
	}
	if r.Reward != nil {
		doc["reward"] = *r.Reward
	}

	canonical, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash links a content hash to the previous chain hash.
func ChainHash(prev, content string) string {
	sum := sha256.Sum256([]byte(prev + content))
	return hex.EncodeToString(sum[:])
}

// Seal fills in the hashes of r so it follows prev in the chain.
func Seal(r *Record, prev string) error {
	if prev == "" {
		prev = Genesis
	}
	content, err := ContentHash(r)
	if err != nil {
		return err
	}
	r.ContentHash = content
	r.PrevChainHash = prev
	r.ChainHash = ChainHash(prev, content)
	return nil
}
