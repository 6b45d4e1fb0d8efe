// Package indexer imports dataset files into storage, the live snapshot, and the
// keyword index.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/loader"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
)

// Indexer loads datasets and publishes them. Imports are serialized; readers of the
// live snapshot are never blocked.
type Indexer struct {
	store        storage.Store
	live         *storage.Live
	keywordIndex keyword.TextIndex
	opts         loader.Options
	metrics      *metrics.Metrics
	logger       *zap.Logger // optional; when set, logs debug events

	mu    sync.Mutex
	paths []string
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (files loaded, snapshot published, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithMetrics records reload outcomes and dataset size.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// NewIndexer creates an indexer. store and keywordIndex may be nil, in which case the
// dataset is only published to live.
func NewIndexer(store storage.Store, live *storage.Live, keywordIndex keyword.TextIndex, opts loader.Options, options ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:        store,
		live:         live,
		keywordIndex: keywordIndex,
		opts:         opts,
	}
	for _, opt := range options {
		opt(idx)
	}
	return idx
}

// Import loads paths (files, or directories scanned for dataset files) as the whole
// dataset, replacing the previous one. Returns the number of instances published.
func (idx *Indexer) Import(ctx context.Context, paths []string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	files, err := ExpandPaths(paths)
	if err != nil {
		idx.metrics.DatasetLoaded(0, err)
		return 0, err
	}
	n, err := idx.importLocked(ctx, files)
	idx.metrics.DatasetLoaded(n, err)
	if err != nil {
		return 0, err
	}
	idx.paths = append([]string(nil), paths...)
	return n, nil
}

// Reload re-imports the paths of the last successful Import. On failure the previous
// snapshot stays live.
func (idx *Indexer) Reload(ctx context.Context) (int, error) {
	idx.mu.Lock()
	paths := append([]string(nil), idx.paths...)
	idx.mu.Unlock()
	if len(paths) == 0 {
		return 0, fmt.Errorf("no dataset imported yet")
	}
	return idx.Import(ctx, paths)
}

// Paths returns the inputs of the last successful Import.
func (idx *Indexer) Paths() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return append([]string(nil), idx.paths...)
}

// Restore publishes the dataset persisted by a previous run. It returns 0 without error
// when there is no store or the store is empty.
func (idx *Indexer) Restore(ctx context.Context) (int, error) {
	if idx.store == nil {
		return 0, nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	instances, err := idx.store.ListInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read stored instances: %w", err)
	}
	if len(instances) == 0 {
		return 0, nil
	}
	if err := idx.publishLocked(ctx, instances); err != nil {
		return 0, err
	}
	idx.metrics.DatasetLoaded(len(instances), nil)
	return len(instances), nil
}

func (idx *Indexer) importLocked(ctx context.Context, files []string) (int, error) {
	if idx.logger != nil {
		idx.logger.Debug("indexer loading files", zap.Strings("files", files))
	}
	instances, err := loader.LoadAll(ctx, files, idx.opts)
	if err != nil {
		return 0, fmt.Errorf("failed to load dataset: %w", err)
	}
	if idx.store != nil {
		if err := idx.store.ReplaceInstances(ctx, instances); err != nil {
			return 0, fmt.Errorf("failed to store instances: %w", err)
		}
	}
	if err := idx.publishLocked(ctx, instances); err != nil {
		return 0, err
	}
	return len(instances), nil
}

func (idx *Indexer) publishLocked(ctx context.Context, instances []*models.Instance) error {
	gen := idx.live.Publish(instances)
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.IndexAll(ctx, instances); err != nil {
			return fmt.Errorf("failed to index keywords: %w", err)
		}
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer dataset published", zap.Int("instances", len(instances)), zap.Uint64("generation", gen))
	}
	return nil
}

// ExpandPaths resolves paths to absolute dataset files. Directories contribute every
// supported file directly inside or below them, in lexical order; explicit files must
// have a supported extension.
func ExpandPaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no dataset paths given")
	}
	var files []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("absolute path: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat dataset path: %w", err)
		}
		if !info.IsDir() {
			if !extensionAllowed(filepath.Ext(abs), loader.SupportedExtensions) {
				return nil, fmt.Errorf("extension %q not in allowed list", filepath.Ext(abs))
			}
			files = append(files, abs)
			continue
		}
		var found []string
		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !extensionAllowed(filepath.Ext(path), loader.SupportedExtensions) {
				return nil
			}
			// Resolve symlinks so only regular files are loaded
			finfo, statErr := os.Stat(path)
			if statErr != nil || !finfo.Mode().IsRegular() {
				return nil
			}
			found = append(found, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", abs, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no dataset files found in %v", paths)
	}
	return files, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
