package models

import "fmt"

// ExplainRequest selects the instance and class to explain.
// Zero values for the numeric fields mean "use the configured default".
type ExplainRequest struct {
	Index       int    `json:"index"`
	Class       string `json:"class,omitempty"`
	NumSamples  int    `json:"num_samples,omitempty"`
	NumFeatures int    `json:"num_features,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
	Seed        *int64 `json:"seed,omitempty"`
}

// Validate rejects negative tuning parameters and caps the sample count at maxSamples when positive.
func (r *ExplainRequest) Validate(maxSamples int) error {
	if r.NumSamples < 0 {
		return fmt.Errorf("num_samples must not be negative")
	}
	if r.NumFeatures < 0 {
		return fmt.Errorf("num_features must not be negative")
	}
	if r.TopK < 0 {
		return fmt.Errorf("top_k must not be negative")
	}
	if maxSamples > 0 && r.NumSamples > maxSamples {
		r.NumSamples = maxSamples
	}
	return nil
}
