package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Logistic is a fitted logistic regression. A single coefficient row is a binary model
// (sigmoid over the positive class); otherwise one row per class is combined with softmax.
type Logistic struct {
	classes   []string
	coef      *mat.Dense
	intercept []float64
}

// NewLogistic validates the parameters and returns a classifier.
func NewLogistic(classes []string, coef [][]float64, intercept []float64) (*Logistic, error) {
	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	if len(coef) == 0 || len(coef[0]) == 0 {
		return nil, fmt.Errorf("empty coefficient matrix")
	}
	rows := len(classes)
	if len(classes) == 2 {
		rows = 1
	}
	if len(coef) != rows {
		return nil, fmt.Errorf("%d coefficient rows for %d classes, want %d", len(coef), len(classes), rows)
	}
	if len(intercept) != rows {
		return nil, fmt.Errorf("%d intercepts for %d coefficient rows", len(intercept), rows)
	}
	d := len(coef[0])
	flat := make([]float64, 0, rows*d)
	for i, r := range coef {
		if len(r) != d {
			return nil, fmt.Errorf("coefficient row %d has %d features, want %d", i, len(r), d)
		}
		flat = append(flat, r...)
	}
	return &Logistic{
		classes:   append([]string(nil), classes...),
		coef:      mat.NewDense(rows, d, flat),
		intercept: append([]float64(nil), intercept...),
	}, nil
}

// Classes returns the class labels in probability column order.
func (l *Logistic) Classes() []string {
	return l.classes
}

// Dimensions returns the number of input features.
func (l *Logistic) Dimensions() int {
	_, d := l.coef.Dims()
	return d
}

// PredictProba returns one probability row per input row.
func (l *Logistic) PredictProba(x [][]float64) ([][]float64, error) {
	if len(x) == 0 {
		return [][]float64{}, nil
	}
	rows, d := l.coef.Dims()
	input, err := toDense(x, d)
	if err != nil {
		return nil, err
	}
	var z mat.Dense
	z.Mul(input, l.coef.T())

	out := make([][]float64, len(x))
	for i := range x {
		if rows == 1 {
			p := sigmoid(z.At(i, 0) + l.intercept[0])
			out[i] = []float64{1 - p, p}
			continue
		}
		logits := make([]float64, rows)
		for k := range logits {
			logits[k] = z.At(i, k) + l.intercept[k]
		}
		out[i] = softmax(logits)
	}
	return out, nil
}

func toDense(x [][]float64, d int) (*mat.Dense, error) {
	flat := make([]float64, 0, len(x)*d)
	for i, r := range x {
		if len(r) != d {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(r), d)
		}
		flat = append(flat, r...)
	}
	return mat.NewDense(len(x), d, flat), nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softmax(logits []float64) []float64 {
	peak := logits[0]
	for _, v := range logits[1:] {
		peak = math.Max(peak, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for k, v := range logits {
		out[k] = math.Exp(v - peak)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}
