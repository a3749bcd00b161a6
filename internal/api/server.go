// Package api exposes the engine over HTTP for non-browser hosts: the
// router integration endpoints, cache diagnostics and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/authgrid/authcache/internal/cache"
	"github.com/authgrid/authcache/internal/monitor"
	"github.com/authgrid/authcache/internal/navigation"
	"github.com/authgrid/authcache/internal/prefetch"
)

// Engine bundles the components the HTTP surface talks to.
type Engine struct {
	Manager    *cache.Manager
	Tracker    *navigation.Tracker
	Model      *navigation.Model
	Prefetcher *prefetch.Prefetcher
	Monitor    *monitor.Monitor
	Source     prefetch.AuthSource
}

// Server serves the engine's HTTP surface.
type Server struct {
	engine     *Engine
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates an HTTP server on the given port.
func NewServer(port int, engine *Engine, logger *zap.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the chi route tree. Exposed for handler tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.engine.Monitor.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/history", s.handleHistory)
		r.Get("/predictions", s.handlePredictions)
		r.Post("/navigate", s.handleNavigate)
		r.Post("/lookup", s.handleLookup)
		r.Post("/invalidate", s.handleInvalidate)
	})
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serving: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"counters":    s.engine.Monitor.Snapshot(),
		"memory_tier": s.engine.Manager.MemoryStats(),
		"model_edges": s.engine.Model.Edges(),
		"session_id":  s.engine.Tracker.SessionID(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Tracker.History())
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Query().Get("route")
	if route == "" {
		http.Error(w, "route query parameter required", http.StatusBadRequest)
		return
	}

	k := 3
	if raw := r.URL.Query().Get("k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			k = parsed
		}
	}

	predictions := s.engine.Model.Predict(route, k)
	if predictions == nil {
		predictions = []navigation.Prediction{}
	}
	s.writeJSON(w, http.StatusOK, predictions)
}

// handleNavigate is the router callback: score the previous prediction,
// record the navigation, then evaluate prefetches for the new route.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Route string `json:"route"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Route == "" {
		http.Error(w, "route is required", http.StatusBadRequest)
		return
	}

	s.engine.Monitor.RecordNavigation(req.Route)
	s.engine.Tracker.Record(req.Route)
	// Prefetches outlive the triggering request on purpose.
	s.engine.Prefetcher.Evaluate(context.WithoutCancel(r.Context()), req.Route)

	w.WriteHeader(http.StatusAccepted)
}

// handleLookup serves an authorization payload through the cache, falling
// back to the authorization source on a miss via the single-flight warm.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key      string `json:"key"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	category := cache.Category(req.Category)
	if category == "" {
		category = cache.CategoryPermission
	}

	value, err := s.engine.Manager.Warm(r.Context(), req.Key, category, func(ctx context.Context) ([]byte, error) {
		return s.engine.Source.Load(ctx, req.Key)
	})
	if err != nil {
		s.logger.Warn("lookup failed", zap.String("key", req.Key), zap.Error(err))
		http.Error(w, "authorization source unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(value); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}

// handleInvalidate is the authorization service's mutation callback.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key    string `json:"key"`
		Prefix string `json:"prefix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Key == "" && req.Prefix == "") {
		http.Error(w, "key or prefix is required", http.StatusBadRequest)
		return
	}

	if req.Key != "" {
		s.engine.Manager.Invalidate(req.Key)
	}
	if req.Prefix != "" {
		s.engine.Manager.InvalidatePrefix(req.Prefix)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
