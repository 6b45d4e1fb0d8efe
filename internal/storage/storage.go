// Package storage defines the dataset the explainer reads from and its SQLite and
// in-memory implementations.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/setsumei/internal/models"
)

// ErrOutOfRange is returned for an instance position outside the dataset.
var ErrOutOfRange = errors.New("instance position out of range")

// Dataset is random access to the instances being explained.
// Implementations are read-only once published.
type Dataset interface {
	// Len returns the number of instances, including those without embeddings.
	Len() int
	// Instance returns the instance at position i.
	Instance(ctx context.Context, i int) (*models.Instance, error)
	// Embeddings returns every non-nil embedding in position order.
	Embeddings(ctx context.Context) ([][]float64, error)
	// Generation identifies this version of the data; it changes on every reload.
	Generation() uint64
}

// Source hands out the current dataset snapshot.
type Source interface {
	Snapshot() Dataset
}

// Store persists instances between runs.
type Store interface {
	ReplaceInstances(ctx context.Context, instances []*models.Instance) error
	ListInstances(ctx context.Context) ([]*models.Instance, error)
	GetInstance(ctx context.Context, position int) (*models.Instance, error)
	CountInstances(ctx context.Context) (int64, error)
	CountEmbedded(ctx context.Context) (int64, error)
	Close() error
}
