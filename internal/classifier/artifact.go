package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Artifact is the JSON export of a fitted logistic regression and its standard scaler.
//
//	{
//	  "classes": [0, 1],
//	  "coef": [[0.12, -0.4, ...]],
//	  "intercept": [0.03],
//	  "scaler": {"mean": [...], "scale": [...]}
//	}
type Artifact struct {
	Classes   Labels          `json:"classes"`
	Coef      [][]float64     `json:"coef"`
	Intercept []float64       `json:"intercept"`
	Scaler    *StandardScaler `json:"scaler,omitempty"`
}

// Labels decodes class labels given as JSON strings or numbers.
type Labels []string

// UnmarshalJSON accepts ["a", "b"], [0, 1], or a mix.
func (l *Labels) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("classes must be an array: %w", err)
	}
	out := make(Labels, len(raw))
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out[i] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("class %d is neither a string nor a number", i)
		}
		out[i] = normalizeNumber(n)
	}
	*l = out
	return nil
}

// normalizeNumber renders 1.0 as "1" so integer labels exported as floats match.
func normalizeNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}

// LoadArtifact reads an artifact file and builds the classifier and scaler it describes.
// An artifact without a scaler section yields an IdentityScaler.
func LoadArtifact(path string) (*Logistic, Scaler, error) {
	a, err := ReadArtifact(path)
	if err != nil {
		return nil, nil, err
	}
	model, err := NewLogistic(a.Classes, a.Coef, a.Intercept)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid model in %s: %w", path, err)
	}
	scaler, err := a.scaler(model.Dimensions())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid scaler in %s: %w", path, err)
	}
	return model, scaler, nil
}

// ReadArtifact parses an artifact file without building the model.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	return &a, nil
}

// ScalerFor returns the artifact's scaler checked against d features.
func (a *Artifact) ScalerFor(d int) (Scaler, error) {
	return a.scaler(d)
}

func (a *Artifact) scaler(d int) (Scaler, error) {
	if a.Scaler == nil {
		return IdentityScaler{}, nil
	}
	s, err := NewStandardScaler(a.Scaler.Mean, a.Scaler.Scale)
	if err != nil {
		return nil, err
	}
	if d > 0 && len(s.Mean) != d {
		return nil, fmt.Errorf("scaler has %d features, model has %d", len(s.Mean), d)
	}
	return s, nil
}
