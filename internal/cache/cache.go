// Package cache stores finished explanations so repeated seeded requests skip the
// sampling and fitting work.
package cache

import (
	"context"
	"fmt"

	"github.com/hyperjump/setsumei/internal/models"
)

// Cache stores explanations by key. Implementations must be safe for concurrent use and
// must not let callers mutate stored values.
type Cache interface {
	Get(ctx context.Context, key string) (*models.Explanation, bool, error)
	Set(ctx context.Context, key string, e *models.Explanation) error
	Close() error
}

// KeyParts are the inputs that fully determine an explanation.
type KeyParts struct {
	Generation  uint64
	Index       int
	Class       string
	NumSamples  int
	NumFeatures int
	TopK        int
	Seed        uint64
}

// Key renders parts as a cache key. The dataset generation is part of the key so a
// reload never serves explanations of replaced data.
func Key(p KeyParts) string {
	return fmt.Sprintf("setsumei:explain:g%d:i%d:c%q:n%d:f%d:k%d:s%d",
		p.Generation, p.Index, p.Class, p.NumSamples, p.NumFeatures, p.TopK, p.Seed)
}

// Noop never stores anything.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string) (*models.Explanation, bool, error) {
	return nil, false, nil
}

// Set discards e.
func (Noop) Set(context.Context, string, *models.Explanation) error {
	return nil
}

// Close does nothing.
func (Noop) Close() error {
	return nil
}
