// Package attribution projects surrogate feature weights onto the words of the
// instance's text.
//
// A word scores the sum of the weights of every feature whose label is a literal,
// case-sensitive substring of it. Feature labels such as "Embedding_12 <= 0.34" are
// synthetic, so this is a lossy heuristic rather than a faithful correspondence: a label
// matches only tokens that happen to contain it, and several labels may match the same
// token and are all counted.
package attribution

import (
	"sort"
	"strings"

	"github.com/hyperjump/setsumei/internal/models"
)

// Project returns one attribution list per segment and one entry per whitespace token,
// in input order. Tokens matching no label score exactly 0.
func Project(segments []string, weights []models.FeatureWeight) [][]models.WordAttribution {
	out := make([][]models.WordAttribution, len(segments))
	for i, seg := range segments {
		words := strings.Fields(seg)
		attrs := make([]models.WordAttribution, len(words))
		for j, w := range words {
			attrs[j] = models.WordAttribution{Word: w, Score: Score(w, weights)}
		}
		out[i] = attrs
	}
	return out
}

// Score sums the weights of the labels contained in word.
func Score(word string, weights []models.FeatureWeight) float64 {
	var score float64
	for _, fw := range weights {
		if strings.Contains(word, fw.Feature) {
			score += fw.Weight
		}
	}
	return score
}

// Highlights returns up to n attributed words with non-zero score across all segments,
// ordered by descending absolute score. Ties keep text order.
func Highlights(attrs [][]models.WordAttribution, n int) []models.WordAttribution {
	var out []models.WordAttribution
	for _, seg := range attrs {
		for _, a := range seg {
			if a.Score != 0 {
				out = append(out, a)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return abs(out[i].Score) > abs(out[j].Score)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
