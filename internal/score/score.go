// Package score holds the bounded arithmetic shared by the scoring components.
package score

import "math"

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Round4 rounds v to 4 decimal places, half away from zero.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
