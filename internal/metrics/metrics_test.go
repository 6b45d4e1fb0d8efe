package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.ObserveExplanation(OutcomeOK, 120*time.Millisecond)
	m.ObserveExplanation(OutcomeFailed, time.Second)
	m.ObserveExplanation(OutcomeOK, 80*time.Millisecond)
	m.CacheResult(true)
	m.CacheResult(false)
	m.CacheResult(false)
	m.DatasetLoaded(42, nil)
	m.DatasetLoaded(0, errors.New("bad file"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExplanationsTotal.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExplanationsTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.DatasetInstances))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DatasetReloads.WithLabelValues("error")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveExplanation(OutcomeOK, time.Second)
		m.ObserveStage("sample", time.Second)
		m.CacheResult(true)
		m.DatasetLoaded(1, nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveStage("fit", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "setsumei_explanation_stage_duration_seconds"))
}
