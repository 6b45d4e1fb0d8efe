package lime

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultNumFeatures caps the columns kept by correlation pre-selection.
	DefaultNumFeatures = 10
	// DefaultRidgeAlpha is the default L2 regularization strength.
	DefaultRidgeAlpha = 1.0
	// DefaultRetryFactor multiplies alpha for the single retry after a failed solve.
	DefaultRetryFactor = 10.0

	perfectFitTolerance = 1e-20
)

// SurrogateOptions tunes the weighted ridge fit.
type SurrogateOptions struct {
	NumFeatures int
	Alpha       float64
	RetryFactor float64
}

func (o SurrogateOptions) withDefaults() SurrogateOptions {
	if o.NumFeatures <= 0 {
		o.NumFeatures = DefaultNumFeatures
	}
	if o.Alpha <= 0 {
		o.Alpha = DefaultRidgeAlpha
	}
	if o.RetryFactor <= 0 {
		o.RetryFactor = DefaultRetryFactor
	}
	return o
}

// Surrogate is a weighted linear model fit on a neighborhood.
// Coefficients[k] belongs to feature Features[k]; Features is ascending.
type Surrogate struct {
	Features     []int
	Coefficients []float64
	Intercept    float64
	// LocalPrediction is the surrogate's output at the target (row 0).
	LocalPrediction float64
	// Score is the weighted R² of the surrogate on the neighborhood.
	Score float64
	// Alpha is the regularization strength the solve succeeded with.
	Alpha float64
}

// FitSurrogate pre-selects at most opts.NumFeatures columns by absolute weighted
// correlation with labels and fits a weighted ridge regression on them. The intercept
// is not penalized. A failed solve is retried once with a larger alpha; a second
// failure returns ErrDegenerateFeatureSpace.
func FitSurrogate(nb *Neighborhood, labels []float64, opts SurrogateOptions) (*Surrogate, error) {
	opts = opts.withDefaults()
	x := nb.Scaled
	if x == nil {
		x = nb.Representation
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: empty neighborhood", ErrDegenerateFeatureSpace)
	}
	if len(labels) != len(x) || len(nb.Weights) != len(x) {
		return nil, fmt.Errorf("neighborhood has %d rows, %d labels and %d weights", len(x), len(labels), len(nb.Weights))
	}

	features := selectByCorrelation(x, labels, nb.Weights, opts.NumFeatures)

	alpha := opts.Alpha
	coef, intercept, err := solveRidge(x, labels, nb.Weights, features, alpha)
	if err != nil {
		next := alpha * opts.RetryFactor
		if next <= alpha {
			next = alpha + 1
		}
		alpha = next
		coef, intercept, err = solveRidge(x, labels, nb.Weights, features, alpha)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDegenerateFeatureSpace, err)
		}
	}

	s := &Surrogate{
		Features:     features,
		Coefficients: coef,
		Intercept:    intercept,
		Alpha:        alpha,
	}
	predictions := make([]float64, len(x))
	for i, row := range x {
		predictions[i] = s.predict(row)
	}
	s.LocalPrediction = predictions[0]
	s.Score = weightedR2(predictions, labels, nb.Weights)
	return s, nil
}

func (s *Surrogate) predict(row []float64) float64 {
	y := s.Intercept
	for k, f := range s.Features {
		y += s.Coefficients[k] * row[f]
	}
	return y
}

// selectByCorrelation returns up to k column indices, ascending, with the highest
// absolute weighted Pearson correlation to y. Undefined correlations count as 0 and
// ties prefer the lower index.
func selectByCorrelation(x [][]float64, y, w []float64, k int) []int {
	d := len(x[0])
	scores := make([]float64, d)
	if !isConstant(y) {
		for j := 0; j < d; j++ {
			col := column(x, j)
			if isConstant(col) {
				continue
			}
			c := stat.Correlation(col, y, w)
			if math.IsNaN(c) || math.IsInf(c, 0) {
				c = 0
			}
			scores[j] = math.Abs(c)
		}
	}

	order := make([]int, d)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if k > d {
		k = d
	}
	selected := append([]int(nil), order[:k]...)
	sort.Ints(selected)
	return selected
}

func isConstant(v []float64) bool {
	if len(v) == 0 {
		return true
	}
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

// solveRidge minimizes sum_i w_i (y_i - b - x_i·c)² + alpha |c|² over the selected
// columns by centering on the weighted means and solving the normal equations with a
// Cholesky factorization.
func solveRidge(x [][]float64, y, w []float64, features []int, alpha float64) ([]float64, float64, error) {
	p := len(features)
	var wsum float64
	for _, wi := range w {
		wsum += wi
	}
	if wsum <= 0 || math.IsNaN(wsum) {
		return nil, 0, fmt.Errorf("non-positive total sample weight")
	}

	xm := make([]float64, p)
	var ym float64
	for i, row := range x {
		for k, f := range features {
			xm[k] += w[i] * row[f]
		}
		ym += w[i] * y[i]
	}
	for k := range xm {
		xm[k] /= wsum
	}
	ym /= wsum
	if p == 0 {
		return []float64{}, ym, nil
	}

	a := mat.NewSymDense(p, nil)
	b := make([]float64, p)
	xc := make([]float64, p)
	for i, row := range x {
		for k, f := range features {
			xc[k] = row[f] - xm[k]
		}
		yc := y[i] - ym
		for k := 0; k < p; k++ {
			b[k] += w[i] * xc[k] * yc
			for l := k; l < p; l++ {
				a.SetSym(k, l, a.At(k, l)+w[i]*xc[k]*xc[l])
			}
		}
	}
	for k := 0; k < p; k++ {
		a.SetSym(k, k, a.At(k, k)+alpha)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, 0, fmt.Errorf("normal equations are not positive definite (alpha=%g)", alpha)
	}
	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, mat.NewVecDense(p, b)); err != nil {
		return nil, 0, fmt.Errorf("solve normal equations (alpha=%g): %w", alpha, err)
	}

	coef := make([]float64, p)
	intercept := ym
	for k := range coef {
		coef[k] = sol.AtVec(k)
		if math.IsNaN(coef[k]) || math.IsInf(coef[k], 0) {
			return nil, 0, fmt.Errorf("non-finite coefficient (alpha=%g)", alpha)
		}
		intercept -= coef[k] * xm[k]
	}
	return coef, intercept, nil
}

// weightedR2 is the weighted coefficient of determination. A constant target scores 1
// when predicted exactly and 0 otherwise.
func weightedR2(pred, y, w []float64) float64 {
	var wsum, ym float64
	constant := true
	for i := range y {
		wsum += w[i]
		ym += w[i] * y[i]
		if y[i] != y[0] {
			constant = false
		}
	}
	if wsum == 0 {
		return 0
	}
	ym /= wsum
	var ssRes, ssTot float64
	for i := range y {
		r := y[i] - pred[i]
		t := y[i] - ym
		ssRes += w[i] * r * r
		ssTot += w[i] * t * t
	}
	if constant || ssTot == 0 {
		if ssRes/wsum <= perfectFitTolerance {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
