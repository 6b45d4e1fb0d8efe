package models

// FeatureWeight is one surrogate coefficient with its display label.
type FeatureWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// WordAttribution is the score projected onto one whitespace token.
type WordAttribution struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
}

// ClassProbability pairs a class label with the classifier's probability for it.
type ClassProbability struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

// Fidelity describes how well the surrogate fits the classifier around the instance.
type Fidelity struct {
	Intercept       float64 `json:"intercept"`
	LocalPrediction float64 `json:"local_prediction"`
	Score           float64 `json:"score"`
	Alpha           float64 `json:"alpha"`
}

// Explanation is the result of explaining one instance.
// Probabilities are in classifier class order and sum to 1.
type Explanation struct {
	RequestID            string              `json:"request_id"`
	Index                int                 `json:"index"`
	Identifier           string              `json:"identifier"`
	Text                 []string            `json:"text"`
	Probabilities        []ClassProbability  `json:"probabilities"`
	PredictedClass       string              `json:"predicted_class"`
	PredictedProbability float64             `json:"predicted_probability"`
	TargetClass          string              `json:"target_class"`
	FeatureWeights       []FeatureWeight     `json:"feature_weights"`
	Words                [][]WordAttribution `json:"important_words"`
	// Truncated is set when fewer feature weights than requested could be labelled.
	Truncated  bool      `json:"truncated,omitempty"`
	NumSamples int       `json:"num_samples"`
	Seed       uint64    `json:"seed"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Cached     bool      `json:"cached,omitempty"`
	Fidelity   *Fidelity `json:"-"`
}

// Clone returns a copy that shares no slices with e.
func (e *Explanation) Clone() *Explanation {
	if e == nil {
		return nil
	}
	c := *e
	c.Text = append([]string(nil), e.Text...)
	c.Probabilities = append([]ClassProbability(nil), e.Probabilities...)
	c.FeatureWeights = append([]FeatureWeight(nil), e.FeatureWeights...)
	if e.Words != nil {
		c.Words = make([][]WordAttribution, len(e.Words))
		for i, seg := range e.Words {
			c.Words[i] = append([]WordAttribution(nil), seg...)
		}
	}
	if e.Fidelity != nil {
		f := *e.Fidelity
		c.Fidelity = &f
	}
	return &c
}
