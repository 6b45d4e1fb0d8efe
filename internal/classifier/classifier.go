// Package classifier defines the black-box model surface the explainer depends on and
// provides a JSON-exported logistic regression, a standard scaler, and an ONNX Runtime
// backed classifier.
package classifier

import (
	"fmt"
	"math"

	"github.com/hyperjump/setsumei/pkg/utils"
)

// Classifier maps feature rows to class probabilities.
// Column k of every PredictProba row corresponds to Classes()[k].
type Classifier interface {
	PredictProba(x [][]float64) ([][]float64, error)
	Classes() []string
}

// Scaler transforms raw feature rows into the classifier's input space.
type Scaler interface {
	Transform(x [][]float64) ([][]float64, error)
}

// ProbabilityTolerance bounds how far a probability row may sum from 1.
const ProbabilityTolerance = 1e-6

// CheckProbabilities verifies that probs has one finite row per input, one column per
// class, and rows summing to 1.
func CheckProbabilities(probs [][]float64, rows, classes int) error {
	if len(probs) != rows {
		return fmt.Errorf("classifier returned %d rows for %d inputs", len(probs), rows)
	}
	for i, p := range probs {
		if len(p) != classes {
			return fmt.Errorf("row %d has %d probabilities for %d classes", i, len(p), classes)
		}
		if !utils.AllFinite(p) {
			return fmt.Errorf("row %d has non-finite probability", i)
		}
		if sum := utils.Sum(p); math.Abs(sum-1) > ProbabilityTolerance {
			return fmt.Errorf("row %d probabilities sum to %g", i, sum)
		}
	}
	return nil
}
