// Package server provides the HTTP API for setsumei.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
)

// Explainer produces explanations; implemented by explain.Engine.
type Explainer interface {
	Explain(ctx context.Context, req models.ExplainRequest) (*models.Explanation, error)
	Classes() []string
}

// Reloader re-imports the configured dataset; implemented by indexer.Indexer.
type Reloader interface {
	Reload(ctx context.Context) (int, error)
}

// Server is the HTTP server for the setsumei API.
type Server struct {
	explainer    Explainer
	source       storage.Source
	keywordIndex keyword.TextIndex
	reloader     Reloader
	metrics      *metrics.Metrics
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithKeywordIndex enables text search over instances.
func WithKeywordIndex(idx keyword.TextIndex) ServerOption {
	return func(s *Server) { s.keywordIndex = idx }
}

// WithReloader enables POST /api/v1/dataset/reload.
func WithReloader(r Reloader) ServerOption {
	return func(s *Server) { s.reloader = r }
}

// WithMetrics serves /metrics from m.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server with the given dependencies.
func NewServer(explainer Explainer, source storage.Source, cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{
		explainer: explainer,
		source:    source,
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(s.config.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.Server.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/instances", s.handleListInstances)
		r.Get("/instances/{index}", s.handleGetInstance)
		r.Post("/dataset/reload", s.handleReload)
		r.Group(func(r chi.Router) {
			if timeout := s.config.Server.RequestTimeout; timeout > 0 {
				r.Use(middleware.Timeout(timeout))
			}
			if s.config.Server.RateLimit > 0 {
				limiter := newRateLimiter(rate.Limit(s.config.Server.RateLimit), s.config.Server.Burst)
				r.Use(limiter.Middleware(s))
			}
			r.Get("/explain/{index}", s.handleExplain)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// rateLimiter is a token bucket per client IP.
type rateLimiter struct {
	ips   map[string]*rate.Limiter
	mu    sync.Mutex
	rate  rate.Limit
	burst int
}

func newRateLimiter(r rate.Limit, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		ips:   make(map[string]*rate.Limiter),
		rate:  r,
		burst: burst,
	}
}

func (rl *rateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.ips[ip]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.ips[ip] = l
	}
	return l
}

func (rl *rateLimiter) Middleware(s *Server) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.limiter(clientIP(r)).Allow() {
				s.metrics.ObserveExplanation(metrics.OutcomeRejected, 0)
				s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
