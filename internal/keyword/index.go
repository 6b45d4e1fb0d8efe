// Package keyword provides full-text lookup of dataset instances so a user can find the
// index of the instance they want explained.
package keyword

import (
	"context"

	"github.com/hyperjump/setsumei/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// TextIndex indexes instance text and identifiers.
type TextIndex interface {
	// IndexAll makes the index contain exactly instances, keyed by position.
	IndexAll(ctx context.Context, instances []*models.Instance) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error)
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single keyword search hit.
type Hit struct {
	Position   int
	Identifier string
	Score      float64
}
