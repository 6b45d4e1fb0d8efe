package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/classifier"
	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/explain"
	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Explain.NumSamples = 300
	cfg.Explain.MaxSamples = 1000
	cfg.Storage.DatabasePath = ""
	cfg.Storage.BleveIndexPath = ""
	return cfg
}

func testInstances() []*models.Instance {
	return []*models.Instance{
		{Identifier: "P-1", Segments: []string{"solar panel bracket", "aluminium frame"}, Embedding: []float64{0.1, 0.9, 0.3, 0.5}},
		{Identifier: "P-2", Segments: []string{"wind turbine blade"}, Embedding: []float64{0.7, 0.2, 0.8, 0.1}},
		{Identifier: "P-3", Segments: []string{"battery housing"}},
		{Identifier: "P-4", Segments: []string{"heat exchanger"}, Embedding: []float64{0.4, 0.4, 0.1, 0.9}},
	}
}

type fakeReloader struct {
	n   int
	err error
}

func (f *fakeReloader) Reload(context.Context) (int, error) {
	return f.n, f.err
}

func testServer(t *testing.T, cfg *config.Config, opts ...ServerOption) (*Server, *storage.Live) {
	t.Helper()
	clf, err := classifier.NewConstant([]string{"0", "1"}, []float64{0.2, 0.8})
	if err != nil {
		t.Fatal(err)
	}
	live := storage.NewLive()
	live.Publish(testInstances())
	engine := explain.NewEngine(clf, nil, live, cfg.Explain)
	return NewServer(engine, live, cfg, zap.NewNop(), opts...), live
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleExplain(t *testing.T) {
	srv, _ := testServer(t, testConfig())
	rec := get(t, srv.Router(), "/api/v1/explain/0?seed=3&top_k=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var exp models.Explanation
	if err := json.NewDecoder(rec.Body).Decode(&exp); err != nil {
		t.Fatal(err)
	}
	if exp.PredictedClass != "1" || exp.PredictedProbability != 0.8 {
		t.Errorf("predicted %q %v", exp.PredictedClass, exp.PredictedProbability)
	}
	if len(exp.FeatureWeights) > 2 {
		t.Errorf("got %d feature weights, want <= 2", len(exp.FeatureWeights))
	}
	if exp.Seed != 3 || exp.Identifier != "P-1" || len(exp.Words) != 2 {
		t.Errorf("unexpected explanation: %+v", exp)
	}
}

func TestHandleExplain_errors(t *testing.T) {
	srv, _ := testServer(t, testConfig())
	h := srv.Router()
	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/explain/99", http.StatusNotFound},
		{"/api/v1/explain/2", http.StatusUnprocessableEntity},
		{"/api/v1/explain/0?class=7", http.StatusBadRequest},
		{"/api/v1/explain/abc", http.StatusBadRequest},
		{"/api/v1/explain/0?samples=-5", http.StatusBadRequest},
		{"/api/v1/explain/0?seed=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.path)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
			continue
		}
		var body errorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Error == "" || body.Explainable == nil || *body.Explainable {
			t.Errorf("%s: unexpected body %+v", tt.path, body)
		}
	}
}

func TestExplainStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{explain.ErrIndexOutOfRange, http.StatusNotFound},
		{explain.ErrMissingEmbedding, http.StatusUnprocessableEntity},
		{explain.ErrDegenerateFeatureSpace, http.StatusUnprocessableEntity},
		{explain.ErrUnknownClass, http.StatusBadRequest},
		{explain.ErrClassifierContract, http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := explainStatus(tt.err); got != tt.want {
			t.Errorf("explainStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHandleExplain_rateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = 0.001
	cfg.Server.Burst = 1
	srv, _ := testServer(t, cfg)
	h := srv.Router()

	if rec := get(t, h, "/api/v1/explain/0?seed=1"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec := get(t, h, "/api/v1/explain/0?seed=1"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
	if rec := get(t, h, "/api/v1/instances/0"); rec.Code != http.StatusOK {
		t.Errorf("non-explain routes are not limited, got %d", rec.Code)
	}
}

func TestHandleGetInstance(t *testing.T) {
	srv, _ := testServer(t, testConfig())
	h := srv.Router()

	rec := get(t, h, "/api/v1/instances/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["identifier"] != "P-2" || body["embedded"] != true || body["dimensions"] != 4.0 {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["embedding"]; ok {
		t.Error("raw embedding should not be serialized")
	}

	if rec := get(t, h, "/api/v1/instances/10"); rec.Code != http.StatusNotFound {
		t.Errorf("missing instance status = %d", rec.Code)
	}
	if rec := get(t, h, "/api/v1/instances/x"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad index status = %d", rec.Code)
	}
}

func TestHandleListInstances(t *testing.T) {
	srv, _ := testServer(t, testConfig())
	h := srv.Router()

	rec := get(t, h, "/api/v1/instances?limit=2&offset=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 4 || len(resp.Instances) != 2 || resp.Instances[0].Identifier != "P-2" {
		t.Errorf("unexpected list: %+v", resp)
	}
	if resp.Instances[1].Embedded {
		t.Error("P-3 has no embedding")
	}

	if rec := get(t, h, "/api/v1/instances?limit=0"); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d", rec.Code)
	}
	if rec := get(t, h, "/api/v1/instances?q=turbine"); rec.Code != http.StatusNotImplemented {
		t.Errorf("search without index status = %d", rec.Code)
	}
}

func TestHandleListInstances_search(t *testing.T) {
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer kw.Close()
	srv, live := testServer(t, testConfig(), WithKeywordIndex(kw))
	if err := kw.IndexAll(context.Background(), live.Current().Instances()); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv.Router(), "/api/v1/instances?q=turbine")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Instances) != 1 || resp.Instances[0].Index != 1 || resp.Query != "turbine" {
		t.Errorf("unexpected search result: %+v", resp)
	}
}

func TestHandleReload(t *testing.T) {
	srv, _ := testServer(t, testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dataset/reload", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("reload without reloader status = %d", rec.Code)
	}

	srv, _ = testServer(t, testConfig(), WithReloader(&fakeReloader{n: 4}))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dataset/reload", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("reload status = %d", rec.Code)
	}

	srv, _ = testServer(t, testConfig(), WithReloader(&fakeReloader{err: errors.New("bad file")}))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dataset/reload", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failed reload status = %d", rec.Code)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	srv, _ := testServer(t, testConfig(), WithMetrics(metrics.New()))
	h := srv.Router()

	if rec := get(t, h, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	rec := get(t, h, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["instances"] != 4.0 || body["embedded"] != 3.0 || body["dimensions"] != 4.0 {
		t.Errorf("unexpected status: %v", body)
	}
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Server.CORSOrigins = []string{"http://localhost:3000"}
	srv, _ := testServer(t, cfg)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
