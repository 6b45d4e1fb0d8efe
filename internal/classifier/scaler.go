package classifier

import "fmt"

// StandardScaler subtracts a per-feature mean and divides by a per-feature scale.
// A zero scale is treated as 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// NewStandardScaler validates mean and scale.
func NewStandardScaler(mean, scale []float64) (*StandardScaler, error) {
	if len(mean) != len(scale) {
		return nil, fmt.Errorf("scaler has %d means and %d scales", len(mean), len(scale))
	}
	return &StandardScaler{Mean: mean, Scale: scale}, nil
}

// Transform returns scaled copies of x; x is not modified.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d has %d features, scaler expects %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scale := s.Scale[j]
			if scale == 0 {
				scale = 1
			}
			scaled[j] = (v - s.Mean[j]) / scale
		}
		out[i] = scaled
	}
	return out, nil
}

// IdentityScaler returns copies of its input unchanged.
type IdentityScaler struct{}

// Transform copies x.
func (IdentityScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = append([]float64(nil), row...)
	}
	return out, nil
}
