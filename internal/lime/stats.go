package lime

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FeatureName returns the display name of embedding dimension i.
func FeatureName(i int) string {
	return fmt.Sprintf("Embedding_%d", i)
}

// FeatureNames returns Embedding_0 .. Embedding_{d-1}.
func FeatureNames(d int) []string {
	names := make([]string, d)
	for i := range names {
		names[i] = FeatureName(i)
	}
	return names
}

// columnStats holds per-feature population statistics of the background matrix.
type columnStats struct {
	mean []float64
	std  []float64
	min  []float64
	max  []float64
}

// constant reports whether feature j has zero variance.
func (c *columnStats) constant(j int) bool {
	return c.min[j] == c.max[j]
}

// scale returns the standardization divisor for feature j (1 for zero variance).
func (c *columnStats) scale(j int) float64 {
	if c.std[j] == 0 || c.constant(j) {
		return 1
	}
	return c.std[j]
}

// column copies feature j out of a row-major matrix.
func column(rows [][]float64, j int) []float64 {
	col := make([]float64, len(rows))
	for i, r := range rows {
		col[i] = r[j]
	}
	return col
}

// computeColumnStats validates the background matrix and returns its statistics.
// It fails with ErrDegenerateFeatureSpace when there are fewer than two rows or every
// feature is constant.
func computeColumnStats(global [][]float64) (*columnStats, error) {
	if len(global) < 2 {
		return nil, fmt.Errorf("%w: %d background rows", ErrDegenerateFeatureSpace, len(global))
	}
	d := len(global[0])
	if d == 0 {
		return nil, fmt.Errorf("%w: zero-dimensional rows", ErrDegenerateFeatureSpace)
	}
	for i, r := range global {
		if len(r) != d {
			return nil, fmt.Errorf("background row %d has %d features, want %d", i, len(r), d)
		}
	}

	cs := &columnStats{
		mean: make([]float64, d),
		std:  make([]float64, d),
		min:  make([]float64, d),
		max:  make([]float64, d),
	}
	varying := false
	for j := 0; j < d; j++ {
		col := column(global, j)
		cs.mean[j], cs.std[j] = stat.PopMeanStdDev(col, nil)
		cs.min[j], cs.max[j] = col[0], col[0]
		for _, v := range col[1:] {
			cs.min[j] = math.Min(cs.min[j], v)
			cs.max[j] = math.Max(cs.max[j], v)
		}
		if cs.min[j] != cs.max[j] {
			varying = true
		}
	}
	if !varying {
		return nil, fmt.Errorf("%w: all %d background rows are identical", ErrDegenerateFeatureSpace, len(global))
	}
	return cs, nil
}

// quantile returns the p-quantile of sorted values using linear interpolation
// between closest ranks (h = (n-1)p).
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// quartiles returns the distinct 25th, 50th, and 75th percentiles of values.
func quartiles(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	out := make([]float64, 0, 3)
	for _, p := range []float64{0.25, 0.5, 0.75} {
		q := quantile(sorted, p)
		if len(out) > 0 && out[len(out)-1] == q {
			continue
		}
		out = append(out, q)
	}
	return out
}
