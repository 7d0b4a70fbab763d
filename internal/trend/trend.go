// Package trend estimates per-category momentum from item timestamps.
//
// Items are bucketed into Window bins of BinWidth, counted back from the most
// recent timestamp in the set. Bin i carries weight Alpha^i, so stale bins
// contribute less to the totals that velocity and density are measured against.
//
//	decayed  = Σ bins[i] * Alpha^i
//	velocity = clamp01(3 * (bins[0] - bins[1]) / max(1, decayed))
//	density  = clamp01(bins[0] / max(1, decayed))
//	score    = clamp01(0.7*velocity + 0.3*density)
package trend

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/feedrank/internal/score"
)

const (
	DefaultBinWidth = 120 * time.Minute
	DefaultWindow   = 6
	DefaultAlpha    = 0.8

	velocityGain   = 3.0
	velocityWeight = 0.7
	densityWeight  = 0.3
)

// Config parameterizes the estimator.
type Config struct {
	BinWidth time.Duration
	Window   int
	Alpha    float64
}

// DefaultConfig returns the 120-minute x 6 window with alpha 0.8.
func DefaultConfig() Config {
	return Config{
		BinWidth: DefaultBinWidth,
		Window:   DefaultWindow,
		Alpha:    DefaultAlpha,
	}
}

// normalized replaces out-of-range parameters with defaults.
func (c Config) normalized() Config {
	if c.BinWidth <= 0 {
		c.BinWidth = DefaultBinWidth
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if !(c.Alpha > 0 && c.Alpha < 1) {
		c.Alpha = DefaultAlpha
	}
	return c
}

// Bins counts timestamps per bin. Bin 0 holds the most recent items; items
// older than the window are dropped.
func (c Config) Bins(timestamps []time.Time) []int {
	c = c.normalized()
	bins := make([]int, c.Window)
	if len(timestamps) == 0 {
		return bins
	}

	ref := timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts.After(ref) {
			ref = ts
		}
	}

	for _, ts := range timestamps {
		b := int(ref.Sub(ts) / c.BinWidth)
		if b < c.Window {
			bins[b]++
		}
	}
	return bins
}

// Score returns the momentum of a set of timestamps in [0,1].
// An empty set scores 0.
func (c Config) Score(timestamps []time.Time) float64 {
	if len(timestamps) == 0 {
		return 0
	}
	return c.ScoreBins(c.Bins(timestamps))
}

// ScoreBins scores precomputed bin counts. Fewer than two bins score 0.
func (c Config) ScoreBins(bins []int) float64 {
	if len(bins) < 2 {
		return 0
	}
	c = c.normalized()

	denom := math.Max(1, decayedTotal(bins, c.Alpha))
	velocity := score.Clamp01(velocityGain * float64(bins[0]-bins[1]) / denom)
	density := score.Clamp01(float64(bins[0]) / denom)
	return score.Clamp01(velocityWeight*velocity + densityWeight*density)
}

// ScoreAll scores every category concurrently. Categories are independent,
// so at most workers goroutines run at once; workers <= 0 means one per category.
func (c Config) ScoreAll(ctx context.Context, groups map[string][]time.Time, workers int) (map[string]float64, error) {
	scores := make(map[string]float64, len(groups))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for category, timestamps := range groups {
		category, timestamps := category, timestamps
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := c.Score(timestamps)
			mu.Lock()
			scores[category] = s
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func decayedTotal(bins []int, alpha float64) float64 {
	total := 0.0
	weight := 1.0
	for _, n := range bins {
		total += float64(n) * weight
		weight *= alpha
	}
	return total
}
