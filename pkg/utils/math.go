package utils

import "math"

// Argmax returns the index of the largest value in xs; the lowest index wins ties.
// Returns -1 for an empty slice.
func Argmax(xs []float64) int {
	best := -1
	for i, v := range xs {
		if best < 0 || v > xs[best] {
			best = i
		}
	}
	return best
}

// Sum returns the sum of xs.
func Sum(xs []float64) float64 {
	var s float64
	for _, v := range xs {
		s += v
	}
	return s
}

// AllFinite reports whether every value in xs is neither NaN nor infinite.
func AllFinite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
