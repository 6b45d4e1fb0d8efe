// Package explain assembles local surrogate explanations for single dataset instances.
package explain

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/attribution"
	"github.com/hyperjump/setsumei/internal/cache"
	"github.com/hyperjump/setsumei/internal/classifier"
	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/lime"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
	"github.com/hyperjump/setsumei/pkg/utils"
)

// Engine explains predictions of one classifier over the current dataset snapshot.
// It holds only read-only collaborators and is safe for concurrent use.
type Engine struct {
	classifier classifier.Classifier
	scaler     classifier.Scaler
	source     storage.Source
	cfg        config.ExplainConfig
	cache      cache.Cache
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// WithCache enables caching of explanations for requests with a fixed seed.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithMetrics records request outcomes and stage timings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer emits one span per request and per stage.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine creates an engine. A nil scaler means the embeddings are already in the
// classifier's input space.
func NewEngine(clf classifier.Classifier, scaler classifier.Scaler, source storage.Source, cfg config.ExplainConfig, opts ...Option) *Engine {
	if scaler == nil {
		scaler = classifier.IdentityScaler{}
	}
	e := &Engine{
		classifier: clf,
		scaler:     scaler,
		source:     source,
		cfg:        cfg,
		cache:      cache.Noop{},
		tracer:     noop.NewTracerProvider().Tracer(""),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classes returns the classifier's labels in probability column order.
func (e *Engine) Classes() []string {
	return e.classifier.Classes()
}

// Explain produces the explanation record for req.Index. The dataset snapshot is taken
// once at the start, so a concurrent reload does not affect a running request.
func (e *Engine) Explain(ctx context.Context, req models.ExplainRequest) (*models.Explanation, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "explain", trace.WithAttributes(attribute.Int("index", req.Index)))
	defer span.End()

	exp, outcome, err := e.explain(ctx, req, start)
	e.metrics.ObserveExplanation(outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("explanation failed", zap.Int("index", req.Index), zap.Error(err))
		return nil, err
	}
	e.logger.Debug("explanation done",
		zap.Int("index", req.Index),
		zap.String("target_class", exp.TargetClass),
		zap.Int("features", len(exp.FeatureWeights)),
		zap.Bool("cached", exp.Cached),
		zap.Int64("elapsed_ms", exp.ElapsedMS))
	return exp, nil
}

// request carries the resolved per-request settings.
type request struct {
	numSamples  int
	numFeatures int
	topK        int
	seed        uint64
	fixedSeed   bool
}

func (e *Engine) resolve(req models.ExplainRequest) request {
	r := request{
		numSamples:  firstPositive(req.NumSamples, e.cfg.NumSamples, lime.DefaultNumSamples),
		numFeatures: firstPositive(req.NumFeatures, e.cfg.NumFeatures, lime.DefaultNumFeatures),
		topK:        firstPositive(req.TopK, e.cfg.TopK, lime.DefaultTopK),
	}
	switch {
	case req.Seed != nil:
		r.seed, r.fixedSeed = uint64(*req.Seed), true
	case e.cfg.Seed != nil:
		r.seed, r.fixedSeed = uint64(*e.cfg.Seed), true
	default:
		r.seed = rand.Uint64()
	}
	return r
}

func (e *Engine) explain(ctx context.Context, req models.ExplainRequest, start time.Time) (*models.Explanation, string, error) {
	if err := req.Validate(e.cfg.MaxSamples); err != nil {
		return nil, metrics.OutcomeRejected, err
	}
	r := e.resolve(req)

	dataset := e.source.Snapshot()
	inst, err := e.lookup(ctx, dataset, req.Index)
	if err != nil {
		return nil, metrics.OutcomeRejected, err
	}

	target, probs, err := e.predictInstance(inst)
	if err != nil {
		return nil, metrics.OutcomeFailed, err
	}
	classes := e.classifier.Classes()
	predicted := utils.Argmax(probs)
	targetIdx := predicted
	if req.Class != "" {
		targetIdx = indexOf(classes, req.Class)
		if targetIdx < 0 {
			return nil, metrics.OutcomeRejected, fmt.Errorf("%w: %q", ErrUnknownClass, req.Class)
		}
	}

	key := cache.Key(cache.KeyParts{
		Generation:  dataset.Generation(),
		Index:       req.Index,
		Class:       classes[targetIdx],
		NumSamples:  r.numSamples,
		NumFeatures: r.numFeatures,
		TopK:        r.topK,
		Seed:        r.seed,
	})
	if r.fixedSeed {
		if hit := e.cached(ctx, key, start); hit != nil {
			return hit, metrics.OutcomeCached, nil
		}
	}

	global, err := e.background(ctx, dataset)
	if err != nil {
		return nil, metrics.OutcomeFailed, err
	}
	if err := ctx.Err(); err != nil {
		return nil, metrics.OutcomeFailed, err
	}

	var disc *lime.Discretizer
	if e.cfg.DiscretizeOrDefault() {
		err = e.stage(ctx, "discretize", func() error {
			var derr error
			disc, derr = lime.NewQuartileDiscretizer(global, nil, e.cfg.LabelPrecision)
			return derr
		})
		if err != nil {
			return nil, metrics.OutcomeFailed, fmt.Errorf("discretize background: %w", err)
		}
	}

	rng := rand.New(rand.NewPCG(r.seed, r.seed))
	var nb *lime.Neighborhood
	err = e.stage(ctx, "sample", func() error {
		var serr error
		nb, serr = lime.Sample(global, target, disc, lime.SampleOptions{
			NumSamples:           r.numSamples,
			KernelWidth:          e.cfg.KernelWidth,
			SampleAroundInstance: e.cfg.SampleAroundInstance,
		}, rng)
		return serr
	})
	if err != nil {
		return nil, metrics.OutcomeFailed, fmt.Errorf("sample neighborhood: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, metrics.OutcomeFailed, err
	}

	var labels []float64
	err = e.stage(ctx, "predict", func() error {
		var perr error
		labels, perr = e.labelsFor(nb.Samples, targetIdx)
		return perr
	})
	if err != nil {
		return nil, metrics.OutcomeFailed, err
	}
	if err := ctx.Err(); err != nil {
		return nil, metrics.OutcomeFailed, err
	}

	var surrogate *lime.Surrogate
	err = e.stage(ctx, "fit", func() error {
		var ferr error
		surrogate, ferr = lime.FitSurrogate(nb, labels, lime.SurrogateOptions{
			NumFeatures: r.numFeatures,
			Alpha:       e.cfg.RidgeAlpha,
			RetryFactor: e.cfg.RidgeRetryFactor,
		})
		return ferr
	})
	if err != nil {
		return nil, metrics.OutcomeFailed, fmt.Errorf("fit surrogate: %w", err)
	}

	var mapper lime.LabelMapper
	if disc != nil {
		mapper = disc.Mapper(target)
	} else {
		mapper = lime.NameMapper(lime.FeatureNames(len(target)))
	}
	sel := lime.SelectFeatures(surrogate, mapper, r.topK)
	for _, s := range sel.Skipped {
		e.logger.Debug("feature skipped",
			zap.Int("index", req.Index),
			zap.Int("feature", s.Feature),
			zap.String("reason", s.Reason))
	}

	exp := &models.Explanation{
		RequestID:            uuid.NewString(),
		Index:                req.Index,
		Identifier:           inst.Identifier,
		Text:                 append([]string(nil), inst.Segments...),
		Probabilities:        classProbabilities(classes, probs),
		PredictedClass:       classes[predicted],
		PredictedProbability: probs[predicted],
		TargetClass:          classes[targetIdx],
		FeatureWeights:       sel.Weights,
		Words:                attribution.Project(inst.Segments, sel.Weights),
		Truncated:            sel.Truncated(),
		NumSamples:           r.numSamples,
		Seed:                 r.seed,
		Fidelity: &models.Fidelity{
			Intercept:       surrogate.Intercept,
			LocalPrediction: surrogate.LocalPrediction,
			Score:           surrogate.Score,
			Alpha:           surrogate.Alpha,
		},
	}
	exp.ElapsedMS = time.Since(start).Milliseconds()

	if r.fixedSeed {
		if err := e.cache.Set(ctx, key, exp); err != nil {
			e.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
		}
	}
	return exp, metrics.OutcomeOK, nil
}

func (e *Engine) lookup(ctx context.Context, dataset storage.Dataset, index int) (*models.Instance, error) {
	if index < 0 || index >= dataset.Len() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, dataset.Len())
	}
	inst, err := dataset.Instance(ctx, index)
	if errors.Is(err, storage.ErrOutOfRange) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %d: %w", index, err)
	}
	if !inst.HasEmbedding() {
		return nil, fmt.Errorf("%w: index %d", ErrMissingEmbedding, index)
	}
	return inst, nil
}

// predictInstance scales the instance and returns the scaled vector with its probabilities.
func (e *Engine) predictInstance(inst *models.Instance) ([]float64, []float64, error) {
	scaled, err := e.scaler.Transform([][]float64{inst.Embedding})
	if err != nil {
		return nil, nil, fmt.Errorf("scale instance: %w", err)
	}
	if len(scaled) != 1 {
		return nil, nil, fmt.Errorf("scale instance: scaler returned %d rows", len(scaled))
	}
	probs, err := e.classifier.PredictProba(scaled)
	if err != nil {
		return nil, nil, fmt.Errorf("predict instance: %w", err)
	}
	if err := classifier.CheckProbabilities(probs, 1, len(e.classifier.Classes())); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrClassifierContract, err)
	}
	return scaled[0], probs[0], nil
}

// background builds the global matrix from every embedded instance in the snapshot.
func (e *Engine) background(ctx context.Context, dataset storage.Dataset) ([][]float64, error) {
	global, err := dataset.Embeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	if len(global) < 2 {
		return nil, fmt.Errorf("%w: %d embedded instances", ErrDegenerateFeatureSpace, len(global))
	}
	if !e.cfg.ScaleBackground {
		return global, nil
	}
	scaled, err := e.scaler.Transform(global)
	if err != nil {
		return nil, fmt.Errorf("scale background: %w", err)
	}
	return scaled, nil
}

// labelsFor returns the target-class probability of every sample.
func (e *Engine) labelsFor(samples [][]float64, targetIdx int) ([]float64, error) {
	probs, err := e.classifier.PredictProba(samples)
	if err != nil {
		return nil, fmt.Errorf("predict neighborhood: %w", err)
	}
	if err := classifier.CheckProbabilities(probs, len(samples), len(e.classifier.Classes())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierContract, err)
	}
	labels := make([]float64, len(probs))
	for i, p := range probs {
		labels[i] = p[targetIdx]
	}
	return labels, nil
}

func (e *Engine) cached(ctx context.Context, key string, start time.Time) *models.Explanation {
	hit, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	e.metrics.CacheResult(ok)
	if !ok {
		return nil
	}
	hit.RequestID = uuid.NewString()
	hit.Cached = true
	hit.ElapsedMS = time.Since(start).Milliseconds()
	return hit
}

// stage runs fn inside a child span and records its duration.
func (e *Engine) stage(ctx context.Context, name string, fn func() error) error {
	_, span := e.tracer.Start(ctx, name)
	defer span.End()
	began := time.Now()
	err := fn()
	e.metrics.ObserveStage(name, time.Since(began))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func classProbabilities(classes []string, probs []float64) []models.ClassProbability {
	out := make([]models.ClassProbability, len(classes))
	for i, c := range classes {
		out[i] = models.ClassProbability{Class: c, Probability: probs[i]}
	}
	return out
}

func indexOf(values []string, v string) int {
	for i, s := range values {
		if s == v {
			return i
		}
	}
	return -1
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
