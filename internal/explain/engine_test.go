package explain

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/setsumei/internal/cache"
	"github.com/hyperjump/setsumei/internal/classifier"
	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
	"github.com/hyperjump/setsumei/pkg/utils"
)

func testConfig() config.ExplainConfig {
	return config.ExplainConfig{
		NumSamples:       400,
		MaxSamples:       1000,
		NumFeatures:      4,
		TopK:             3,
		RidgeAlpha:       1,
		RidgeRetryFactor: 10,
		LabelPrecision:   2,
	}
}

func seed(v int64) *int64 { return &v }

func liveWith(instances ...*models.Instance) *storage.Live {
	live := storage.NewLive()
	live.Publish(instances)
	return live
}

func syntheticInstances(n int) []*models.Instance {
	out := make([]*models.Instance, n)
	for i := range out {
		x := float64(i)
		out[i] = &models.Instance{
			Identifier: "row-" + strings.Repeat("x", i%3),
			Segments:   []string{"first segment text", "second one"},
			Embedding:  []float64{math.Sin(x), math.Cos(0.7 * x), float64(i % 5), x / 10},
		}
	}
	return out
}

func logisticModel(t *testing.T) *classifier.Logistic {
	t.Helper()
	clf, err := classifier.NewLogistic([]string{"neg", "pos"}, [][]float64{{1.5, -2, 0.5, 0}}, []float64{0.1})
	require.NoError(t, err)
	return clf
}

func TestExplain_ConstantClassifierScenario(t *testing.T) {
	clf, err := classifier.NewConstant([]string{"0", "1"}, []float64{0.2, 0.8})
	require.NoError(t, err)
	live := liveWith(
		&models.Instance{Identifier: "a", Segments: []string{"alpha beta"}, Embedding: []float64{0.1, 0.2, 0.3, 0.4}},
		&models.Instance{Identifier: "b", Segments: []string{"gamma"}, Embedding: []float64{0.5, 0.1, 0.9, 0.2}},
		&models.Instance{Identifier: "c", Segments: []string{"delta"}, Embedding: []float64{0.3, 0.7, 0.4, 0.8}},
	)
	cfg := testConfig()
	cfg.NumFeatures = 10
	cfg.TopK = 10
	engine := NewEngine(clf, nil, live, cfg)

	exp, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 0, Seed: seed(1)})
	require.NoError(t, err)

	assert.Equal(t, "1", exp.PredictedClass)
	assert.InDelta(t, 0.8, exp.PredictedProbability, 1e-12)
	assert.Equal(t, "1", exp.TargetClass)
	assert.LessOrEqual(t, len(exp.FeatureWeights), 4)
	assert.Equal(t, "a", exp.Identifier)
	assert.Equal(t, []string{"alpha beta"}, exp.Text)
	require.Len(t, exp.Words, 1)
	assert.Len(t, exp.Words[0], 2)
	assert.NotEmpty(t, exp.RequestID)
	require.NotNil(t, exp.Fidelity)
	assert.InDelta(t, 0.8, exp.Fidelity.LocalPrediction, 1e-6)
}

func TestExplain_Properties(t *testing.T) {
	engine := NewEngine(logisticModel(t), nil, liveWith(syntheticInstances(30)...), testConfig())

	for _, idx := range []int{0, 7, 29} {
		exp, err := engine.Explain(context.Background(), models.ExplainRequest{Index: idx, Seed: seed(42)})
		require.NoError(t, err)

		var sum float64
		probs := make([]float64, len(exp.Probabilities))
		for i, p := range exp.Probabilities {
			sum += p.Probability
			probs[i] = p.Probability
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
		assert.Equal(t, exp.Probabilities[utils.Argmax(probs)].Class, exp.PredictedClass)

		assert.LessOrEqual(t, len(exp.FeatureWeights), 3)
		for i := 1; i < len(exp.FeatureWeights); i++ {
			assert.GreaterOrEqual(t, math.Abs(exp.FeatureWeights[i-1].Weight), math.Abs(exp.FeatureWeights[i].Weight))
		}

		require.Len(t, exp.Words, len(exp.Text))
		for i, seg := range exp.Text {
			require.Len(t, exp.Words[i], len(strings.Fields(seg)))
			for _, w := range exp.Words[i] {
				assert.Equal(t, 0.0, w.Score, "plain words never contain feature labels")
			}
		}
	}
}

func TestExplain_DeterministicUnderSeed(t *testing.T) {
	engine := NewEngine(logisticModel(t), nil, liveWith(syntheticInstances(25)...), testConfig())
	req := models.ExplainRequest{Index: 4, Seed: seed(7)}

	first, err := engine.Explain(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Explain(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.FeatureWeights, second.FeatureWeights)
	assert.Equal(t, uint64(7), first.Seed)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestExplain_ConfigSeed(t *testing.T) {
	cfg := testConfig()
	cfg.Seed = seed(99)
	engine := NewEngine(logisticModel(t), nil, liveWith(syntheticInstances(25)...), cfg)

	first, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 2})
	require.NoError(t, err)
	second, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(99), first.Seed)
	assert.Equal(t, first.FeatureWeights, second.FeatureWeights)
}

func TestExplain_TargetClass(t *testing.T) {
	engine := NewEngine(logisticModel(t), nil, liveWith(syntheticInstances(25)...), testConfig())

	pos, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 3, Class: "pos", Seed: seed(5)})
	require.NoError(t, err)
	neg, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 3, Class: "neg", Seed: seed(5)})
	require.NoError(t, err)

	assert.Equal(t, "pos", pos.TargetClass)
	assert.Equal(t, "neg", neg.TargetClass)
	assert.Equal(t, pos.PredictedClass, neg.PredictedClass)
	require.Equal(t, len(pos.FeatureWeights), len(neg.FeatureWeights))
	for i := range pos.FeatureWeights {
		assert.Equal(t, pos.FeatureWeights[i].Feature, neg.FeatureWeights[i].Feature)
		assert.InDelta(t, pos.FeatureWeights[i].Weight, -neg.FeatureWeights[i].Weight, 1e-9)
	}
}

func TestExplain_ContinuousMode(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.Discretize = &off
	engine := NewEngine(logisticModel(t), nil, liveWith(syntheticInstances(25)...), cfg)

	exp, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 1, Seed: seed(3)})
	require.NoError(t, err)
	require.NotEmpty(t, exp.FeatureWeights)
	for _, fw := range exp.FeatureWeights {
		assert.True(t, strings.HasPrefix(fw.Feature, "Embedding_"))
		assert.NotContains(t, fw.Feature, "<")
	}
}

type badClassifier struct{}

func (badClassifier) Classes() []string { return []string{"a", "b"} }

func (badClassifier) PredictProba(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i := range out {
		out[i] = []float64{0.2, 0.3, 0.5}
	}
	return out, nil
}

func TestExplain_Errors(t *testing.T) {
	clf, err := classifier.NewConstant([]string{"0", "1"}, []float64{0.5, 0.5})
	require.NoError(t, err)
	withGap := syntheticInstances(5)
	withGap[2].Embedding = nil

	tests := []struct {
		name   string
		clf    classifier.Classifier
		data   []*models.Instance
		req    models.ExplainRequest
		target error
	}{
		{name: "index past end", clf: clf, data: syntheticInstances(3), req: models.ExplainRequest{Index: 3}, target: ErrIndexOutOfRange},
		{name: "negative index", clf: clf, data: syntheticInstances(3), req: models.ExplainRequest{Index: -1}, target: ErrIndexOutOfRange},
		{name: "empty dataset", clf: clf, data: nil, req: models.ExplainRequest{Index: 0}, target: ErrIndexOutOfRange},
		{name: "missing embedding", clf: clf, data: withGap, req: models.ExplainRequest{Index: 2}, target: ErrMissingEmbedding},
		{name: "unknown class", clf: clf, data: syntheticInstances(3), req: models.ExplainRequest{Index: 0, Class: "2"}, target: ErrUnknownClass},
		{name: "classifier contract", clf: badClassifier{}, data: syntheticInstances(3), req: models.ExplainRequest{Index: 0}, target: ErrClassifierContract},
		{
			name: "single background row",
			clf:  clf,
			data: []*models.Instance{
				{Identifier: "only", Embedding: []float64{1, 2}},
				{Identifier: "none"},
			},
			req:    models.ExplainRequest{Index: 0},
			target: ErrDegenerateFeatureSpace,
		},
		{
			name: "identical background rows",
			clf:  clf,
			data: []*models.Instance{
				{Identifier: "x", Embedding: []float64{1, 2}},
				{Identifier: "y", Embedding: []float64{1, 2}},
			},
			req:    models.ExplainRequest{Index: 0},
			target: ErrDegenerateFeatureSpace,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			engine := NewEngine(tt.clf, nil, liveWith(tt.data...), testConfig(), WithMetrics(m))
			exp, err := engine.Explain(context.Background(), tt.req)
			assert.Nil(t, exp)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestExplain_RejectsNegativeParameters(t *testing.T) {
	engine := NewEngine(logisticModel(t), nil, liveWith(syntheticInstances(5)...), testConfig())
	_, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 0, TopK: -1})
	assert.Error(t, err)
}

func TestExplain_CapsSamples(t *testing.T) {
	engine := NewEngine(logisticModel(t), nil, liveWith(syntheticInstances(10)...), testConfig())
	exp, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 0, NumSamples: 50000, Seed: seed(1)})
	require.NoError(t, err)
	assert.Equal(t, 1000, exp.NumSamples)
}

func TestExplain_Cancelled(t *testing.T) {
	engine := NewEngine(logisticModel(t), nil, liveWith(syntheticInstances(10)...), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Explain(ctx, models.ExplainRequest{Index: 0})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestExplain_CacheHitAndReload(t *testing.T) {
	lru, err := cache.NewLRU(16, 0)
	require.NoError(t, err)
	m := metrics.New()
	live := liveWith(syntheticInstances(20)...)
	engine := NewEngine(logisticModel(t), nil, live, testConfig(), WithCache(lru), WithMetrics(m))
	req := models.ExplainRequest{Index: 1, Seed: seed(11)}

	first, err := engine.Explain(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := engine.Explain(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.FeatureWeights, second.FeatureWeights)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	live.Publish(syntheticInstances(20))
	third, err := engine.Explain(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.Cached, "a reload must invalidate cached explanations")

	unseeded, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 1})
	require.NoError(t, err)
	assert.False(t, unseeded.Cached)
	assert.Equal(t, 2, lru.Len())
}

func TestExplain_SnapshotIsolation(t *testing.T) {
	live := liveWith(syntheticInstances(10)...)
	engine := NewEngine(logisticModel(t), nil, live, testConfig())

	before, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 9, Seed: seed(2)})
	require.NoError(t, err)
	live.Publish(syntheticInstances(5))

	_, err = engine.Explain(context.Background(), models.ExplainRequest{Index: 9, Seed: seed(2)})
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	assert.Equal(t, 9, before.Index)
}

func TestExplain_WithScaler(t *testing.T) {
	scaler, err := classifier.NewStandardScaler([]float64{0, 0, 2, 1}, []float64{1, 1, 2, 1})
	require.NoError(t, err)
	cfg := testConfig()
	cfg.ScaleBackground = true
	engine := NewEngine(logisticModel(t), scaler, liveWith(syntheticInstances(20)...), cfg)

	exp, err := engine.Explain(context.Background(), models.ExplainRequest{Index: 0, Seed: seed(1)})
	require.NoError(t, err)
	assert.NotEmpty(t, exp.FeatureWeights)
}

func BenchmarkExplain(b *testing.B) {
	clf, err := classifier.NewLogistic([]string{"neg", "pos"}, [][]float64{{1.5, -2, 0.5, 0}}, []float64{0.1})
	if err != nil {
		b.Fatal(err)
	}
	cfg := testConfig()
	cfg.NumSamples = 5000
	cfg.MaxSamples = 5000
	engine := NewEngine(clf, nil, liveWith(syntheticInstances(200)...), cfg)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Explain(ctx, models.ExplainRequest{Index: i % 200}); err != nil {
			b.Fatal(err)
		}
	}
}
