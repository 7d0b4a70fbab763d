// Package ingest decodes item records deposited by upstream processing.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"

	"github.com/TobiSchelling/feedrank/internal/database"
)

const (
	DefaultCategory   = "general"
	DefaultConfidence = 0.5
)

// record is the loose wire shape of an upstream item. Upstream writers
// disagree on a few field names, so aliases are accepted.
type record struct {
	ID              string          `json:"id"`
	Link            string          `json:"link"`
	Title           string          `json:"title"`
	Category        string          `json:"category"`
	Language        string          `json:"language"`
	Polarity        string          `json:"polarity"`
	Tone            string          `json:"tone"`
	Confidence      json.RawMessage `json:"confidence"`
	ConfidenceScore json.RawMessage `json:"confidence_score"`
	Timestamp       json.RawMessage `json:"timestamp"`
	Published       json.RawMessage `json:"published"`
	Script          string          `json:"script"`
	SummaryMedium   string          `json:"summary_medium"`
	Summary         string          `json:"summary"`
	AudioPath       string          `json:"audio_path"`
}

// Decoder turns raw records into items for a partition.
type Decoder struct {
	Partition string
	Now       func() time.Time
}

// Decode converts one JSON object into an item.
func (d *Decoder) Decode(raw []byte) (database.Item, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return database.Item{}, fmt.Errorf("decoding item: %w", err)
	}
	return d.convert(r), nil
}

// DecodeAll reads a JSON object, a JSON array of objects, or JSON lines.
func (d *Decoder) DecodeAll(r io.Reader) ([]database.Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("decoding item array: %w", err)
		}
		items := make([]database.Item, 0, len(raws))
		for i, raw := range raws {
			it, err := d.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			items = append(items, it)
		}
		return items, nil
	}

	var items []database.Item
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		it, err := d.Decode(b)
		if err != nil {
			// A pretty-printed single object spans many lines.
			if line == 1 {
				if it, err := d.Decode(data); err == nil {
					return []database.Item{it}, nil
				}
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, it)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning items: %w", err)
	}
	return items, nil
}

// derivedID names an item without id or link from its content, so the same
// record always maps to the same item.
func derivedID(r record) string {
	key := strings.Join([]string{
		strings.TrimSpace(r.Title),
		strings.ToLower(strings.TrimSpace(r.Category)),
		string(bytes.TrimSpace(r.Timestamp)),
		string(bytes.TrimSpace(r.Published)),
		r.Script + r.SummaryMedium + r.Summary,
	}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

func (d *Decoder) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Decoder) convert(r record) database.Item {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = strings.TrimSpace(r.Link)
	}
	if id == "" {
		id = derivedID(r)
	}

	category := strings.ToLower(strings.TrimSpace(r.Category))
	if category == "" {
		category = DefaultCategory
	}

	summary := r.Script
	if summary == "" {
		summary = r.SummaryMedium
	}
	if summary == "" {
		summary = r.Summary
	}

	confidence, ok := ParseConfidence(r.Confidence)
	if !ok {
		confidence, _ = ParseConfidence(r.ConfidenceScore)
	}

	ts := r.Timestamp
	if isNull(ts) {
		ts = r.Published
	}

	partition := d.Partition
	if partition == "" {
		partition = database.GetToday()
	}

	return database.Item{
		ID:         id,
		Partition:  partition,
		Title:      strings.TrimSpace(r.Title),
		Category:   category,
		Language:   r.Language,
		Polarity:   strings.ToLower(strings.TrimSpace(r.Polarity)),
		Tone:       r.Tone,
		Confidence: confidence,
		Timestamp:  d.ParseTimestamp(ts),
		Summary:    summary,
		AudioPath:  r.AudioPath,
	}
}

// ParseConfidence accepts a JSON number or numeric string in [0,1].
// Anything else yields DefaultConfidence and false.
func ParseConfidence(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return DefaultConfidence, false
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return DefaultConfidence, false
		}
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return DefaultConfidence, false
		}
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return DefaultConfidence, false
	}
	return v, true
}

// ParseTimestamp parses a string or unix-seconds timestamp to UTC.
// Unparseable or missing values become the current time.
func (d *Decoder) ParseTimestamp(raw json.RawMessage) time.Time {
	if isNull(raw) {
		return d.now()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return d.now()
		}
		s = n.String()
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return d.now()
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return d.now()
	}
	return t.UTC()
}

func isNull(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
