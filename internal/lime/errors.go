package lime

import "errors"

// ErrDegenerateFeatureSpace is returned when the background matrix has fewer than two
// rows, collapses to a single point, or the surrogate cannot be solved even after
// increasing regularization.
var ErrDegenerateFeatureSpace = errors.New("degenerate feature space")
