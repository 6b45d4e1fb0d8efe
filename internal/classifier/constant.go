package classifier

import "fmt"

// Constant returns the same probability row for every input. Useful as a test double.
type Constant struct {
	classes []string
	probs   []float64
}

// NewConstant returns a classifier that always predicts probs over classes.
func NewConstant(classes []string, probs []float64) (*Constant, error) {
	if len(classes) != len(probs) {
		return nil, fmt.Errorf("%d classes for %d probabilities", len(classes), len(probs))
	}
	return &Constant{classes: classes, probs: probs}, nil
}

// Classes returns the configured labels.
func (c *Constant) Classes() []string {
	return c.classes
}

// PredictProba returns a copy of the fixed row per input.
func (c *Constant) PredictProba(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = append([]float64(nil), c.probs...)
	}
	return out, nil
}
