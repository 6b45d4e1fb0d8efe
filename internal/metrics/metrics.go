// Package metrics exposes Prometheus instruments for explanation traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for ExplanationsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeCached   = "cached"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics holds the service instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ExplanationsTotal   *prometheus.CounterVec
	ExplanationDuration prometheus.Histogram
	StageDuration       *prometheus.HistogramVec
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	DatasetInstances    prometheus.Gauge
	DatasetReloads      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all instruments with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers all instruments with reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExplanationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsumei_explanations_total",
				Help: "Explanation requests by outcome",
			},
			[]string{"outcome"},
		),
		ExplanationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "setsumei_explanation_duration_seconds",
			Help:    "Wall-clock time to produce an explanation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "setsumei_explanation_stage_duration_seconds",
				Help:    "Time spent in each explanation stage",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"stage"},
		),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "setsumei_cache_hits_total",
			Help: "Explanations served from cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "setsumei_cache_misses_total",
			Help: "Cacheable explanations that had to be computed",
		}),
		DatasetInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "setsumei_dataset_instances",
			Help: "Instances in the current dataset snapshot",
		}),
		DatasetReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsumei_dataset_reloads_total",
				Help: "Dataset reloads by result",
			},
			[]string{"result"},
		),
		gatherer: gatherer,
	}
}

// ObserveExplanation records one finished request.
func (m *Metrics) ObserveExplanation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ExplanationsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeCached {
		m.ExplanationDuration.Observe(elapsed.Seconds())
	}
}

// ObserveStage records the duration of one engine stage.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// CacheResult counts a cache lookup.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// DatasetLoaded records a reload attempt and, on success, the new size.
func (m *Metrics) DatasetLoaded(instances int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DatasetReloads.WithLabelValues("error").Inc()
		return
	}
	m.DatasetReloads.WithLabelValues("ok").Inc()
	m.DatasetInstances.Set(float64(instances))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
