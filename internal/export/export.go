// Package export writes the ranked feed as a CSV and JSON report.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/rank"
)

const (
	CSVName  = "weekly_report.csv"
	JSONName = "weekly_report.json"
)

// Columns is the CSV header.
var Columns = []string{"id", "title", "category", "language", "polarity", "tone", "trend_score", "priority_score", "timestamp"}

// Report is the JSON document.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Partition   string          `json:"partition,omitempty"`
	Period      string          `json:"period,omitempty"`
	PeriodLabel string          `json:"period_label,omitempty"`
	Items       []database.Item `json:"items"`
}

// Paths holds the files written by Write.
type Paths struct {
	CSV  string `json:"csv"`
	JSON string `json:"json"`
}

// CategoryTop is the head of one category's ranking.
type CategoryTop struct {
	Category string          `json:"category"`
	Items    []database.Item `json:"items"`
}

// WriteCSV writes one row per item in feed order.
func WriteCSV(w io.Writer, items []database.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, it := range items {
		row := []string{
			it.ID,
			it.Title,
			it.Category,
			it.Language,
			it.Polarity,
			it.Tone,
			strconv.FormatFloat(it.TrendScore, 'f', -1, 64),
			strconv.FormatFloat(it.PriorityScore, 'f', -1, 64),
			it.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row %s: %w", it.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes an indented Report. Audio paths are normalized.
func WriteJSON(w io.Writer, r Report) error {
	items := make([]database.Item, len(r.Items))
	for i, it := range r.Items {
		it.AudioPath = rank.NormalizePath(it.AudioPath)
		items[i] = it
	}
	r.Items = items
	r.GeneratedAt = r.GeneratedAt.UTC()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// Write creates dir if needed and writes both report files.
func Write(dir string, r Report) (*Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}

	paths := &Paths{
		CSV:  filepath.Join(dir, CSVName),
		JSON: filepath.Join(dir, JSONName),
	}
	if err := writeFile(paths.CSV, func(w io.Writer) error { return WriteCSV(w, r.Items) }); err != nil {
		return nil, err
	}
	if err := writeFile(paths.JSON, func(w io.Writer) error { return WriteJSON(w, r) }); err != nil {
		return nil, err
	}
	return paths, nil
}

// TopPerCategory groups a ranked feed by category, keeping at most n items
// each. Categories appear in the order of their first item.
func TopPerCategory(items []database.Item, n int) []CategoryTop {
	var tops []CategoryTop
	index := make(map[string]int)
	for _, it := range items {
		cat := it.Category
		if cat == "" {
			cat = "general"
		}
		i, ok := index[cat]
		if !ok {
			i = len(tops)
			index[cat] = i
			tops = append(tops, CategoryTop{Category: cat})
		}
		if n <= 0 || len(tops[i].Items) < n {
			tops[i].Items = append(tops[i].Items, it)
		}
	}
	return tops
}

// writeFile writes through a temp file and renames it into place.
func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
