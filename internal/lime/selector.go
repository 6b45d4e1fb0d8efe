package lime

import (
	"math"
	"sort"

	"github.com/hyperjump/setsumei/internal/models"
)

// DefaultTopK is the default number of feature weights reported.
const DefaultTopK = 10

// Mapping is the outcome of labelling one feature: a label, or a reason to skip it.
type Mapping struct {
	Label string
	Skip  string
}

// Mapped returns a successful mapping.
func Mapped(label string) Mapping {
	return Mapping{Label: label}
}

// Skip returns a mapping that drops the feature for the given reason.
func Skip(reason string) Mapping {
	return Mapping{Skip: reason}
}

// Skipped reports whether the feature has no label.
func (m Mapping) Skipped() bool {
	return m.Skip != ""
}

// LabelMapper resolves a feature index to its display label.
type LabelMapper interface {
	Map(feature int) Mapping
}

// LabelMapperFunc adapts a function to LabelMapper.
type LabelMapperFunc func(feature int) Mapping

// Map calls f(feature).
func (f LabelMapperFunc) Map(feature int) Mapping {
	return f(feature)
}

// NameMapper labels features by name alone; indices outside names are skipped.
func NameMapper(names []string) LabelMapper {
	return LabelMapperFunc(func(f int) Mapping {
		if f < 0 || f >= len(names) {
			return Skip("feature index out of range")
		}
		return Mapped(names[f])
	})
}

// SkippedFeature records a surrogate feature that could not be labelled.
type SkippedFeature struct {
	Feature int
	Reason  string
}

// Selection is the labelled top-K of a surrogate.
type Selection struct {
	Weights []models.FeatureWeight
	Skipped []SkippedFeature
	// Requested is the top-K the selection was made for.
	Requested int
}

// Truncated reports whether fewer weights than requested were produced.
func (s Selection) Truncated() bool {
	return len(s.Weights) < s.Requested
}

// SelectFeatures orders the surrogate coefficients by descending absolute value (ties
// prefer the lower feature index), keeps the first topK, and labels them with mapper.
// Unlabelled features are dropped and reported in Skipped, so the result may be
// shorter than topK.
func SelectFeatures(s *Surrogate, mapper LabelMapper, topK int) Selection {
	if topK <= 0 {
		topK = DefaultTopK
	}
	sel := Selection{Requested: topK}

	order := make([]int, len(s.Coefficients))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := math.Abs(s.Coefficients[order[a]]), math.Abs(s.Coefficients[order[b]])
		if ca != cb {
			return ca > cb
		}
		return s.Features[order[a]] < s.Features[order[b]]
	})
	if len(order) > topK {
		order = order[:topK]
	}

	sel.Weights = make([]models.FeatureWeight, 0, len(order))
	for _, k := range order {
		f := s.Features[k]
		m := mapper.Map(f)
		if m.Skipped() {
			sel.Skipped = append(sel.Skipped, SkippedFeature{Feature: f, Reason: m.Skip})
			continue
		}
		sel.Weights = append(sel.Weights, models.FeatureWeight{Feature: m.Label, Weight: s.Coefficients[k]})
	}
	return sel
}
