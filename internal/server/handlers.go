package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/explain"
	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
	"github.com/hyperjump/setsumei/pkg/utils"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	previewLength    = 120
)

type errorResponse struct {
	Error       string `json:"error"`
	Explainable *bool  `json:"explainable,omitempty"`
}

type instanceResponse struct {
	*models.Instance
	Embedded   bool `json:"embedded"`
	Dimensions int  `json:"dimensions"`
}

type listResponse struct {
	Instances []models.InstanceSummary `json:"instances"`
	Total     int                      `json:"total"`
	Query     string                   `json:"query,omitempty"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	req, err := parseExplainRequest(r)
	if err != nil {
		s.respondNotExplainable(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("explain request", zap.Int("index", req.Index), zap.String("class", req.Class))
	exp, err := s.explainer.Explain(r.Context(), req)
	if err != nil {
		status := explainStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("explanation failed", zap.Int("index", req.Index), zap.Error(err))
		}
		s.respondNotExplainable(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, exp)
}

func parseExplainRequest(r *http.Request) (models.ExplainRequest, error) {
	var req models.ExplainRequest
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return req, errors.New("index must be an integer")
	}
	req.Index = index
	q := r.URL.Query()
	req.Class = q.Get("class")
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"samples", &req.NumSamples},
		{"features", &req.NumFeatures},
		{"top_k", &req.TopK},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, errors.New(p.name + " must be a non-negative integer")
		}
		*p.dst = n
	}
	if v := q.Get("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errors.New("seed must be an integer")
		}
		req.Seed = &seed
	}
	return req, nil
}

// explainStatus maps engine errors to HTTP status codes.
func explainStatus(err error) int {
	switch {
	case errors.Is(err, explain.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, explain.ErrMissingEmbedding), errors.Is(err, explain.ErrDegenerateFeatureSpace):
		return http.StatusUnprocessableEntity
	case errors.Is(err, explain.ErrUnknownClass):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	inst, err := s.source.Snapshot().Instance(r.Context(), index)
	if err != nil {
		if errors.Is(err, storage.ErrOutOfRange) {
			s.respondError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, instanceResponse{
		Instance:   inst,
		Embedded:   inst.HasEmbedding(),
		Dimensions: len(inst.Embedding),
	})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	query := q.Get("q")
	snap := s.source.Snapshot()
	ctx := r.Context()

	if query == "" {
		offset := 0
		if v := q.Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				s.respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
				return
			}
			offset = n
		}
		resp := listResponse{Instances: []models.InstanceSummary{}, Total: snap.Len()}
		for i := offset; i < snap.Len() && len(resp.Instances) < limit; i++ {
			inst, err := snap.Instance(ctx, i)
			if err != nil {
				s.respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			resp.Instances = append(resp.Instances, summarize(inst, 0))
		}
		s.respondJSON(w, http.StatusOK, resp)
		return
	}

	if s.keywordIndex == nil {
		s.respondError(w, http.StatusNotImplemented, "search not enabled")
		return
	}
	fuzzy, _ := strconv.ParseBool(q.Get("fuzzy"))
	s.logger.Debug("instance search request", zap.String("query", query), zap.Int("limit", limit))
	hits, err := s.keywordIndex.Search(ctx, query, limit, &keyword.SearchOptions{FuzzyEnabled: fuzzy})
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := listResponse{Instances: []models.InstanceSummary{}, Query: query}
	for _, h := range hits {
		inst, err := snap.Instance(ctx, h.Position)
		if err != nil {
			// The index may briefly lag a reload.
			continue
		}
		resp.Instances = append(resp.Instances, summarize(inst, h.Score))
	}
	resp.Total = len(resp.Instances)
	s.respondJSON(w, http.StatusOK, resp)
}

func summarize(inst *models.Instance, score float64) models.InstanceSummary {
	return models.InstanceSummary{
		Index:      inst.Position,
		Identifier: inst.Identifier,
		Preview:    utils.Truncate(inst.Text(), previewLength),
		Embedded:   inst.HasEmbedding(),
		Score:      score,
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		s.respondError(w, http.StatusNotImplemented, "reload not enabled")
		return
	}
	n, err := s.reloader.Reload(r.Context())
	if err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "reloaded",
		"instances":  n,
		"generation": s.source.Snapshot().Generation(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap := s.source.Snapshot()
	embeddings, err := snap.Embeddings(ctx)
	if err != nil {
		s.logger.Error("status: load embeddings failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dimensions := 0
	if len(embeddings) > 0 {
		dimensions = len(embeddings[0])
	}
	resp := map[string]interface{}{
		"instances":  snap.Len(),
		"embedded":   len(embeddings),
		"dimensions": dimensions,
		"generation": snap.Generation(),
		"classes":    s.explainer.Classes(),
	}
	if s.keywordIndex != nil {
		if n, err := s.keywordIndex.DocCount(); err == nil {
			resp["keyword_documents"] = n
		}
	}

	cfg := s.config
	resp["config"] = map[string]interface{}{
		"num_samples":      cfg.Explain.NumSamples,
		"max_samples":      cfg.Explain.MaxSamples,
		"num_features":     cfg.Explain.NumFeatures,
		"top_k":            cfg.Explain.TopK,
		"discretize":       cfg.Explain.DiscretizeOrDefault(),
		"cache_backend":    cfg.Cache.Backend,
		"database_path":    cfg.Storage.DatabasePath,
		"bleve_index_path": cfg.Storage.BleveIndexPath,
		"dataset_paths":    cfg.Dataset.Paths,
	}
	if usage, total, err := storage.Footprint(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath); err == nil {
		resp["disk_usage"] = usage
		resp["disk_usage_bytes"] = total
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}

func (s *Server) respondNotExplainable(w http.ResponseWriter, status int, message string) {
	explainable := false
	s.respondJSON(w, status, errorResponse{Error: message, Explainable: &explainable})
}
