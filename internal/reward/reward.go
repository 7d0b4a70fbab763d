// Package reward folds named boolean feedback signals into a bounded scalar.
package reward

import (
	"sort"

	"github.com/TobiSchelling/feedrank/internal/score"
)

// Known signal names.
const (
	EditorApprove  = "editor_approve"
	UserLike       = "user_like"
	UserSkip       = "user_skip"
	ManualOverride = "manual_override"
)

// Weights maps a signal name to its contribution when the signal is present.
type Weights map[string]float64

// DefaultWeights returns a fresh copy of the built-in weight table.
func DefaultWeights() Weights {
	return Weights{
		EditorApprove:  1.0,
		UserLike:       0.6,
		UserSkip:       -0.4,
		ManualOverride: -0.8,
	}
}

// Names returns the signal names in the table, sorted.
func (w Weights) Names() []string {
	names := make([]string, 0, len(w))
	for k := range w {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Compute returns the reward for signals in [-1,1], rounded to 4 decimals.
// Signals missing from the table are ignored; a nil table uses the defaults.
func Compute(signals map[string]bool, weights Weights) float64 {
	if weights == nil {
		weights = DefaultWeights()
	}

	sum := 0.0
	for name, present := range signals {
		w, ok := weights[name]
		if !ok || !present {
			continue
		}
		sum += w
	}
	return score.Round4(score.Clamp(sum, -1, 1))
}
