package lime

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// DefaultNumSamples is the neighborhood size used when SampleOptions.NumSamples is unset.
const DefaultNumSamples = 5000

// SampleOptions tunes neighborhood generation.
type SampleOptions struct {
	// NumSamples is the number of rows including the target itself.
	NumSamples int
	// KernelWidth <= 0 selects sqrt(D) * 0.75.
	KernelWidth float64
	// SampleAroundInstance centers continuous draws on the target instead of the background mean.
	SampleAroundInstance bool
}

// Neighborhood is a synthetic sample set around one target. Row 0 is the target.
type Neighborhood struct {
	// Samples are in the classifier's input space.
	Samples [][]float64
	// Representation is the interpretable form of each sample: 1/0 for "same bin as the
	// target" when discretized, the raw sample otherwise.
	Representation [][]float64
	// Scaled is Representation standardized with the background statistics. Distances
	// and the surrogate are computed on it.
	Scaled    [][]float64
	Weights   []float64
	Distances []float64
}

// Len returns the number of rows.
func (nb *Neighborhood) Len() int {
	return len(nb.Samples)
}

// KernelWidth returns the default kernel width for d features.
func KernelWidth(d int) float64 {
	return math.Sqrt(float64(d)) * 0.75
}

// Kernel maps a distance to a proximity weight in (0, 1].
func Kernel(distance, width float64) float64 {
	return math.Sqrt(math.Exp(-(distance * distance) / (width * width)))
}

// Sample draws a neighborhood around target. With disc set, each feature draws a bin in
// proportion to the background bin frequencies and a value inside it; otherwise each
// feature is drawn from a normal fit to the background column. Zero-variance features
// are held at the target value.
func Sample(global [][]float64, target []float64, disc *Discretizer, opts SampleOptions, rng *rand.Rand) (*Neighborhood, error) {
	cs, err := computeColumnStats(global)
	if err != nil {
		return nil, err
	}
	d := len(global[0])
	if len(target) != d {
		return nil, fmt.Errorf("target has %d features, background has %d", len(target), d)
	}
	if disc != nil && disc.Dim() != d {
		return nil, fmt.Errorf("discretizer has %d features, background has %d", disc.Dim(), d)
	}
	if rng == nil {
		return nil, fmt.Errorf("nil random source")
	}
	n := opts.NumSamples
	if n <= 0 {
		n = DefaultNumSamples
	}

	nb := &Neighborhood{
		Samples:        newMatrix(n, d),
		Representation: newMatrix(n, d),
		Scaled:         newMatrix(n, d),
		Weights:        make([]float64, n),
		Distances:      make([]float64, n),
	}
	copy(nb.Samples[0], target)

	if disc != nil {
		sampleDiscretized(nb, target, disc, rng)
	} else {
		sampleContinuous(nb, target, cs, opts.SampleAroundInstance, rng)
	}

	width := opts.KernelWidth
	if width <= 0 {
		width = KernelWidth(d)
	}
	origin := nb.Scaled[0]
	for i, row := range nb.Scaled {
		dist := euclidean(row, origin)
		nb.Distances[i] = dist
		nb.Weights[i] = Kernel(dist, width)
	}
	return nb, nil
}

func sampleDiscretized(nb *Neighborhood, target []float64, disc *Discretizer, rng *rand.Rand) {
	for j := 0; j < disc.Dim(); j++ {
		fb := &disc.features[j]
		targetBin := fb.bin(target[j])
		nb.Representation[0][j] = 1
		for i := 1; i < len(nb.Samples); i++ {
			if fb.constant {
				nb.Samples[i][j] = target[j]
				nb.Representation[i][j] = 1
				continue
			}
			b := fb.sampleBin(rng)
			nb.Samples[i][j] = fb.undiscretize(b, rng)
			if b == targetBin {
				nb.Representation[i][j] = 1
			}
		}
		for i := range nb.Samples {
			nb.Scaled[i][j] = disc.standardize(j, nb.Representation[i][j])
		}
	}
}

func sampleContinuous(nb *Neighborhood, target []float64, cs *columnStats, aroundInstance bool, rng *rand.Rand) {
	d := len(target)
	for i := range nb.Samples {
		for j := 0; j < d; j++ {
			if i > 0 {
				switch {
				case cs.constant(j):
					nb.Samples[i][j] = target[j]
				case aroundInstance:
					nb.Samples[i][j] = rng.NormFloat64()*cs.std[j] + target[j]
				default:
					nb.Samples[i][j] = rng.NormFloat64()*cs.std[j] + cs.mean[j]
				}
			}
			nb.Representation[i][j] = nb.Samples[i][j]
			nb.Scaled[i][j] = (nb.Samples[i][j] - cs.mean[j]) / cs.scale(j)
		}
	}
}

func newMatrix(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	m := make([][]float64, rows)
	for i := range m {
		m[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return m
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
