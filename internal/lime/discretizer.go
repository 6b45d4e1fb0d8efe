package lime

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// DefaultLabelPrecision is the number of decimals kept in bin boundary labels.
const DefaultLabelPrecision = 2

// binStdFloor keeps per-bin standard deviations strictly positive.
const binStdFloor = 1e-11

// maxTruncatedDraws bounds rejection sampling before falling back to a uniform draw.
const maxTruncatedDraws = 64

type featureBins struct {
	name       string
	boundaries []float64
	constant   bool

	// indexed by bin
	means []float64
	stds  []float64
	mins  []float64
	maxs  []float64

	// bins observed in the background data and their cumulative frequencies
	values     []int
	cumulative []float64

	// population mean and scale of the background bin indices
	indexMean  float64
	indexScale float64
}

// Discretizer bins each feature at the quartiles of the background matrix.
// It is immutable after construction and safe for concurrent use.
type Discretizer struct {
	features  []featureBins
	precision int
}

// NewQuartileDiscretizer computes quartile boundaries and per-bin statistics for every
// column of global. names labels the columns; nil means Embedding_i. A negative
// precision selects DefaultLabelPrecision.
func NewQuartileDiscretizer(global [][]float64, names []string, precision int) (*Discretizer, error) {
	cs, err := computeColumnStats(global)
	if err != nil {
		return nil, err
	}
	d := len(global[0])
	if names == nil {
		names = FeatureNames(d)
	}
	if len(names) != d {
		return nil, fmt.Errorf("got %d feature names for %d features", len(names), d)
	}
	if precision < 0 {
		precision = DefaultLabelPrecision
	}

	disc := &Discretizer{features: make([]featureBins, d), precision: precision}
	for j := 0; j < d; j++ {
		disc.features[j] = buildFeatureBins(column(global, j), names[j], cs.min[j], cs.max[j])
	}
	return disc, nil
}

func buildFeatureBins(col []float64, name string, lo, hi float64) featureBins {
	fb := featureBins{
		name:       name,
		boundaries: quartiles(col),
		constant:   lo == hi,
	}
	n := len(fb.boundaries) + 1

	edges := make([]float64, 0, n+1)
	edges = append(edges, lo)
	edges = append(edges, fb.boundaries...)
	edges = append(edges, hi)
	fb.mins = edges[:n]
	fb.maxs = edges[1:]

	members := make([][]float64, n)
	indices := make([]float64, len(col))
	for i, v := range col {
		b := fb.bin(v)
		members[b] = append(members[b], v)
		indices[i] = float64(b)
	}

	fb.means = make([]float64, n)
	fb.stds = make([]float64, n)
	total := float64(len(col))
	acc := 0.0
	for b, vals := range members {
		if len(vals) > 0 {
			fb.means[b], fb.stds[b] = stat.PopMeanStdDev(vals, nil)
			acc += float64(len(vals)) / total
			fb.values = append(fb.values, b)
			fb.cumulative = append(fb.cumulative, acc)
		}
		fb.stds[b] += binStdFloor
	}

	fb.indexMean, fb.indexScale = stat.PopMeanStdDev(indices, nil)
	if fb.indexScale == 0 {
		fb.indexScale = 1
	}
	return fb
}

func (fb *featureBins) bin(v float64) int {
	return sort.SearchFloat64s(fb.boundaries, v)
}

// sampleBin draws a bin in proportion to its background frequency.
func (fb *featureBins) sampleBin(rng *rand.Rand) int {
	u := rng.Float64()
	i := sort.SearchFloat64s(fb.cumulative, u)
	if i >= len(fb.values) {
		i = len(fb.values) - 1
	}
	return fb.values[i]
}

// undiscretize draws a value inside bin b from a normal truncated to the bin's range.
func (fb *featureBins) undiscretize(b int, rng *rand.Rand) float64 {
	lo, hi := fb.mins[b], fb.maxs[b]
	if lo == hi {
		return lo
	}
	for i := 0; i < maxTruncatedDraws; i++ {
		v := rng.NormFloat64()*fb.stds[b] + fb.means[b]
		if v >= lo && v <= hi {
			return v
		}
	}
	return lo + rng.Float64()*(hi-lo)
}

// Dim returns the number of features.
func (d *Discretizer) Dim() int {
	return len(d.features)
}

// Name returns the display name of feature f.
func (d *Discretizer) Name(f int) string {
	return d.features[f].name
}

// Boundaries returns the distinct quartile boundaries of feature f in ascending order.
func (d *Discretizer) Boundaries(f int) []float64 {
	return append([]float64(nil), d.features[f].boundaries...)
}

// NumBins returns the number of bins of feature f.
func (d *Discretizer) NumBins(f int) int {
	return len(d.features[f].boundaries) + 1
}

// Constant reports whether feature f has zero variance in the background matrix.
func (d *Discretizer) Constant(f int) bool {
	return d.features[f].constant
}

// Bin maps value to its ordinal bin for feature f: 0 when value <= q1,
// k when q_k < value <= q_{k+1}, and the last bin above the top boundary.
func (d *Discretizer) Bin(f int, value float64) int {
	return d.features[f].bin(value)
}

// Label renders bin b of feature f as a range, e.g. "2.5 < Embedding_3 <= 3.25".
func (d *Discretizer) Label(f, b int) (string, error) {
	if f < 0 || f >= len(d.features) {
		return "", fmt.Errorf("feature %d out of range [0, %d)", f, len(d.features))
	}
	fb := &d.features[f]
	last := len(fb.boundaries)
	if b < 0 || b > last {
		return "", fmt.Errorf("bin %d out of range for %s", b, fb.name)
	}
	switch b {
	case 0:
		return fmt.Sprintf("%s <= %s", fb.name, d.format(fb.boundaries[0])), nil
	case last:
		return fmt.Sprintf("%s > %s", fb.name, d.format(fb.boundaries[last-1])), nil
	default:
		return fmt.Sprintf("%s < %s <= %s", d.format(fb.boundaries[b-1]), fb.name, d.format(fb.boundaries[b])), nil
	}
}

// standardize maps a binary or bin-index value of feature f onto the scale of the
// background bin indices.
func (d *Discretizer) standardize(f int, v float64) float64 {
	fb := &d.features[f]
	return (v - fb.indexMean) / fb.indexScale
}

func (d *Discretizer) format(v float64) string {
	pow := math.Pow10(d.precision)
	r := math.Round(v*pow) / pow
	if r == 0 {
		r = 0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// Mapper returns a LabelMapper that labels each feature with the bin containing target.
func (d *Discretizer) Mapper(target []float64) LabelMapper {
	return LabelMapperFunc(func(f int) Mapping {
		if f < 0 || f >= len(d.features) || f >= len(target) {
			return Skip(fmt.Sprintf("feature %d has no discretized label", f))
		}
		label, err := d.Label(f, d.Bin(f, target[f]))
		if err != nil {
			return Skip(err.Error())
		}
		return Mapped(label)
	})
}
