package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/cache"
	"github.com/hyperjump/setsumei/internal/classifier"
	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/explain"
	"github.com/hyperjump/setsumei/internal/indexer"
	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/loader"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/storage"
	"github.com/hyperjump/setsumei/internal/telemetry"
)

// Components holds all initialized application components.
type Components struct {
	Store        *storage.SQLiteStorage
	KeywordIndex *keyword.BleveIndex
	Live         *storage.Live
	Indexer      *indexer.Indexer
	Metrics      *metrics.Metrics
	Cache        cache.Cache
	Engine       *explain.Engine
	closers      []func() error
}

// Close releases resources in reverse order of acquisition.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}

// initializeComponents opens storage and the keyword index and loads the dataset:
// from dataset.paths when configured, otherwise from the last import in the store.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.BleveIndexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	c := &Components{Metrics: metrics.New(), Live: storage.NewLive()}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	c.Store = store
	c.closers = append(c.closers, store.Close)

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}
	c.KeywordIndex = kw
	c.closers = append(c.closers, kw.Close)

	idxOpts := []indexer.IndexerOption{indexer.WithMetrics(c.Metrics)}
	if debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	c.Indexer = indexer.NewIndexer(store, c.Live, kw, loader.Options{
		IDColumn:         cfg.Dataset.IDColumn,
		TextColumn:       cfg.Dataset.TextColumn,
		EmbeddingColumn:  cfg.Dataset.EmbeddingColumn,
		SegmentDelimiter: cfg.Dataset.SegmentDelimiter,
	}, idxOpts...)

	var n int
	if len(cfg.Dataset.Paths) > 0 {
		n, err = c.Indexer.Import(ctx, cfg.Dataset.Paths)
	} else {
		n, err = c.Indexer.Restore(ctx)
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	logger.Info("dataset loaded", zap.Int("instances", n), zap.Uint64("generation", c.Live.Snapshot().Generation()))
	return c, nil
}

// initializeEngine loads the classifier and builds the explanation engine with its
// cache and tracer. The dataset must already be loaded.
func (c *Components) initializeEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) error {
	clf, scaler, err := loadClassifier(cfg.Model, datasetDimensions(c.Live.Current()))
	if err != nil {
		return err
	}
	if closer, ok := clf.(interface{ Close() error }); ok {
		c.closers = append(c.closers, closer.Close)
	}
	logger.Info("classifier loaded", zap.Strings("classes", clf.Classes()))

	explCache, err := newCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	c.Cache = explCache
	c.closers = append(c.closers, explCache.Close)

	tracer, shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.closers = append(c.closers, func() error { return shutdown(context.Background()) })

	opts := []explain.Option{
		explain.WithCache(explCache),
		explain.WithMetrics(c.Metrics),
		explain.WithTracer(tracer),
	}
	if debug {
		opts = append(opts, explain.WithLogger(logger))
	}
	c.Engine = explain.NewEngine(clf, scaler, c.Live, cfg.Explain, opts...)
	return nil
}

// loadClassifier builds the ONNX classifier when an ONNX graph is configured, otherwise
// the logistic regression described by the artifact.
func loadClassifier(cfg config.ModelConfig, dims int) (classifier.Classifier, classifier.Scaler, error) {
	if cfg.ONNXPath == "" {
		model, scaler, err := classifier.LoadArtifact(cfg.ArtifactPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load classifier: %w", err)
		}
		if dims > 0 && model.Dimensions() != dims {
			return nil, nil, fmt.Errorf("classifier expects %d features, dataset has %d", model.Dimensions(), dims)
		}
		return model, scaler, nil
	}

	classes := cfg.Classes
	var scaler classifier.Scaler = classifier.IdentityScaler{}
	if _, statErr := os.Stat(cfg.ArtifactPath); statErr == nil {
		a, err := classifier.ReadArtifact(cfg.ArtifactPath)
		if err != nil {
			return nil, nil, err
		}
		if scaler, err = a.ScalerFor(dims); err != nil {
			return nil, nil, fmt.Errorf("invalid scaler: %w", err)
		}
		if len(classes) == 0 {
			classes = a.Classes
		}
	}
	model, err := classifier.NewONNXClassifier(classifier.ONNXOptions{
		ModelPath:     cfg.ONNXPath,
		SharedLibrary: cfg.ORTLibrary,
		InputName:     cfg.ONNXInput,
		OutputName:    cfg.ONNXOutput,
		Dimensions:    dims,
		Classes:       classes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load ONNX classifier: %w", err)
	}
	return model, scaler, nil
}

// datasetDimensions returns the embedding width of the first embedded instance, or 0.
func datasetDimensions(ds *storage.MemoryDataset) int {
	for _, inst := range ds.Instances() {
		if inst.HasEmbedding() {
			return len(inst.Embedding)
		}
	}
	return 0
}

// newCache creates the configured explanation cache backend.
func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "memory":
		c, err := cache.NewLRU(cfg.Size, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		return c, nil
	case "redis":
		c, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return c, nil
	case "none":
		return cache.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
