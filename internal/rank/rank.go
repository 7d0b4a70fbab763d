// Package rank orders items by a blended priority score.
package rank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/score"
	"github.com/TobiSchelling/feedrank/internal/trend"
)

const (
	trendWeight      = 0.4
	polarityWeight   = 0.2
	confidenceWeight = 0.2
	recencyWeight    = 0.2

	// RecencyHorizon is the age at which recency reaches zero.
	RecencyHorizon = 48 * time.Hour
)

// PolarityWeight maps a sentiment polarity to its contribution.
// Unknown polarities weigh the same as negative.
func PolarityWeight(polarity string) float64 {
	switch polarity {
	case "positive":
		return 1.0
	case "neutral":
		return 0.6
	default:
		return 0.4
	}
}

// Recency decays linearly from 1 at age zero to 0 at RecencyHorizon.
// Future timestamps count as age zero.
func Recency(ts, now time.Time) float64 {
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	return score.Clamp01(1 - age.Hours()/RecencyHorizon.Hours())
}

// Priority blends the factors into a score in [0,1], rounded to 4 decimals.
func Priority(trendScore, polarity, confidence, recency float64) float64 {
	s := trendWeight*trendScore +
		polarityWeight*polarity +
		confidenceWeight*score.Clamp01(confidence) +
		recencyWeight*recency
	return score.Round4(score.Clamp01(s))
}

// NormalizePath rewrites backslash separators to forward slashes.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// Ranker scores and orders items.
type Ranker struct {
	Trend   trend.Config
	Clock   clockwork.Clock
	Workers int
}

// New returns a Ranker using the given trend parameters and clock.
func New(cfg trend.Config, clock clockwork.Clock) *Ranker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ranker{Trend: cfg, Clock: clock}
}

// Result is a ranked feed plus the per-category trend scores behind it.
type Result struct {
	Items  []database.Item
	Trends map[string]float64
}

// Rank annotates a copy of items with trend and priority scores and sorts
// it by descending priority. Equal scores keep their input order.
func (r *Ranker) Rank(ctx context.Context, items []database.Item) (*Result, error) {
	groups := make(map[string][]time.Time)
	for _, it := range items {
		groups[it.Category] = append(groups[it.Category], it.Timestamp)
	}

	trends, err := r.Trend.ScoreAll(ctx, groups, r.Workers)
	if err != nil {
		return nil, fmt.Errorf("scoring trends: %w", err)
	}

	now := r.clock().Now()
	ranked := make([]database.Item, len(items))
	copy(ranked, items)

	for i := range ranked {
		it := &ranked[i]
		ts := trends[it.Category]
		it.TrendScore = score.Round4(ts)
		it.PriorityScore = Priority(ts, PolarityWeight(it.Polarity), it.Confidence, Recency(it.Timestamp, now))
		it.AudioPath = NormalizePath(it.AudioPath)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PriorityScore > ranked[j].PriorityScore
	})

	return &Result{Items: ranked, Trends: trends}, nil
}

func (r *Ranker) clock() clockwork.Clock {
	if r.Clock == nil {
		return clockwork.NewRealClock()
	}
	return r.Clock
}
