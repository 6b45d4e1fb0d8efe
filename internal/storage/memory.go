package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hyperjump/setsumei/internal/models"
)

// MemoryDataset is an immutable in-memory Dataset.
type MemoryDataset struct {
	instances  []*models.Instance
	embeddings [][]float64
	generation uint64
}

// NewMemoryDataset wraps instances; their positions are reassigned to their slice index.
// The caller must not modify instances afterwards.
func NewMemoryDataset(instances []*models.Instance, generation uint64) *MemoryDataset {
	d := &MemoryDataset{
		instances:  instances,
		generation: generation,
	}
	for i, inst := range instances {
		inst.Position = i
		if inst.HasEmbedding() {
			d.embeddings = append(d.embeddings, inst.Embedding)
		}
	}
	return d
}

// Len returns the number of instances.
func (d *MemoryDataset) Len() int {
	return len(d.instances)
}

// Instance returns the instance at position i.
func (d *MemoryDataset) Instance(ctx context.Context, i int) (*models.Instance, error) {
	if i < 0 || i >= len(d.instances) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i, len(d.instances))
	}
	return d.instances[i], nil
}

// Embeddings returns the non-nil embeddings. The rows are shared and must not be modified.
func (d *MemoryDataset) Embeddings(ctx context.Context) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.embeddings, nil
}

// Generation returns the snapshot generation.
func (d *MemoryDataset) Generation() uint64 {
	return d.generation
}

// Instances returns all instances in position order.
func (d *MemoryDataset) Instances() []*models.Instance {
	return d.instances
}

// Live holds the current dataset snapshot and swaps it atomically on reload.
// Readers keep the snapshot they obtained even if a newer one is published.
type Live struct {
	current atomic.Pointer[MemoryDataset]
	gen     atomic.Uint64
}

// NewLive returns a Live source with an empty snapshot.
func NewLive() *Live {
	l := &Live{}
	l.current.Store(NewMemoryDataset(nil, 0))
	return l
}

// Publish replaces the snapshot with instances and returns the new generation.
func (l *Live) Publish(instances []*models.Instance) uint64 {
	gen := l.gen.Add(1)
	l.current.Store(NewMemoryDataset(instances, gen))
	return gen
}

// Snapshot returns the current dataset.
func (l *Live) Snapshot() Dataset {
	return l.current.Load()
}

// Current returns the current snapshot with its concrete type.
func (l *Live) Current() *MemoryDataset {
	return l.current.Load()
}
