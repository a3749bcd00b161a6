package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authgrid/authcache/internal/cache"
	"github.com/authgrid/authcache/internal/monitor"
	"github.com/authgrid/authcache/internal/navigation"
	"github.com/authgrid/authcache/internal/prefetch"
)

type stubSource struct {
	mu    sync.Mutex
	loads int
	err   error
	value []byte
}

func (s *stubSource) Load(_ context.Context, _ string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.value, nil
}

func (s *stubSource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func newTestServer(t *testing.T, source *stubSource) (chi.Router, *Engine) {
	t.Helper()

	mon := monitor.New()
	manager := cache.NewManager(cache.NewMemoryStore(100), nil, zap.NewNop(), cache.ManagerOptions{
		Hooks: mon,
	})
	model := navigation.NewModel(10000)
	tracker := navigation.NewTracker(50, model)
	prefetcher := prefetch.New(model, manager, source, nil, zap.NewNop(), prefetch.Options{
		Hooks: mon,
	})
	t.Cleanup(prefetcher.Close)

	engine := &Engine{
		Manager:    manager,
		Tracker:    tracker,
		Model:      model,
		Prefetcher: prefetcher,
		Monitor:    mon,
		Source:     source,
	}
	return NewServer(0, engine, zap.NewNop()).Router(), engine
}

func doJSON(router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	router, _ := newTestServer(t, &stubSource{value: []byte("{}")})

	rec := doJSON(router, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Navigate(t *testing.T) {
	t.Run("records the navigation and returns 202", func(t *testing.T) {
		// Arrange
		router, engine := newTestServer(t, &stubSource{value: []byte("{}")})

		// Act
		rec := doJSON(router, http.MethodPost, "/v1/navigate", `{"route":"/home"}`)

		// Assert
		require.Equal(t, http.StatusAccepted, rec.Code)
		history := engine.Tracker.History()
		require.Len(t, history, 1)
		assert.Equal(t, "/home", history[0].Route)
	})

	t.Run("missing route is a 400", func(t *testing.T) {
		router, _ := newTestServer(t, &stubSource{value: []byte("{}")})

		rec := doJSON(router, http.MethodPost, "/v1/navigate", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("a warm pattern drives prefetch of the likely next route", func(t *testing.T) {
		// Arrange - /login reliably precedes /dashboard
		source := &stubSource{value: []byte(`{"allow":true}`)}
		router, engine := newTestServer(t, source)
		for i := 0; i < 5; i++ {
			engine.Model.Update("/login", "/dashboard")
		}

		// Act
		rec := doJSON(router, http.MethodPost, "/v1/navigate", `{"route":"/login"}`)

		// Assert - the permission entry lands in the cache
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Eventually(t, func() bool {
			_, ok := engine.Manager.Get(prefetch.PermissionKeyFor("/dashboard"))
			return ok
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("scores the previous prediction", func(t *testing.T) {
		// Arrange
		router, engine := newTestServer(t, &stubSource{value: []byte("{}")})
		engine.Monitor.RecordPrediction([]string{"/dashboard"})

		// Act
		doJSON(router, http.MethodPost, "/v1/navigate", `{"route":"/dashboard"}`)

		// Assert
		assert.Equal(t, int64(1), engine.Monitor.Snapshot().PredictionsCorrect)
	})
}

func TestServer_Lookup(t *testing.T) {
	t.Run("miss falls through to the source and caches", func(t *testing.T) {
		// Arrange
		source := &stubSource{value: []byte(`{"allow":true}`)}
		router, engine := newTestServer(t, source)

		// Act
		rec := doJSON(router, http.MethodPost, "/v1/lookup", `{"key":"permission:u1:read"}`)

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"allow":true}`, rec.Body.String())
		_, ok := engine.Manager.Get("permission:u1:read")
		assert.True(t, ok)
	})

	t.Run("repeat lookup is served from cache", func(t *testing.T) {
		// Arrange
		source := &stubSource{value: []byte(`{"allow":true}`)}
		router, _ := newTestServer(t, source)
		doJSON(router, http.MethodPost, "/v1/lookup", `{"key":"permission:u1:read"}`)

		// Act
		rec := doJSON(router, http.MethodPost, "/v1/lookup", `{"key":"permission:u1:read"}`)

		// Assert - the source saw exactly one load
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, source.loadCount())
	})

	t.Run("source failure maps to 502", func(t *testing.T) {
		// Arrange
		source := &stubSource{err: errors.New("upstream down")}
		router, _ := newTestServer(t, source)

		// Act
		rec := doJSON(router, http.MethodPost, "/v1/lookup", `{"key":"permission:u1:read"}`)

		// Assert
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("missing key is a 400", func(t *testing.T) {
		router, _ := newTestServer(t, &stubSource{value: []byte("{}")})

		rec := doJSON(router, http.MethodPost, "/v1/lookup", `{"category":"permission"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Invalidate(t *testing.T) {
	t.Run("by key", func(t *testing.T) {
		// Arrange
		router, engine := newTestServer(t, &stubSource{value: []byte("{}")})
		engine.Manager.Set("permission:u1:read", []byte("x"), cache.CategoryPermission)

		// Act
		rec := doJSON(router, http.MethodPost, "/v1/invalidate", `{"key":"permission:u1:read"}`)

		// Assert
		require.Equal(t, http.StatusNoContent, rec.Code)
		_, ok := engine.Manager.Get("permission:u1:read")
		assert.False(t, ok)
	})

	t.Run("by prefix", func(t *testing.T) {
		// Arrange
		router, engine := newTestServer(t, &stubSource{value: []byte("{}")})
		engine.Manager.Set("role:u1:admin", []byte("x"), cache.CategoryRoleAssignment)
		engine.Manager.Set("role:u1:viewer", []byte("x"), cache.CategoryRoleAssignment)
		engine.Manager.Set("permission:u1:read", []byte("x"), cache.CategoryPermission)

		// Act
		rec := doJSON(router, http.MethodPost, "/v1/invalidate", `{"prefix":"role:u1:"}`)

		// Assert - only the prefixed keys are gone
		require.Equal(t, http.StatusNoContent, rec.Code)
		_, ok := engine.Manager.Get("role:u1:admin")
		assert.False(t, ok)
		_, ok = engine.Manager.Get("role:u1:viewer")
		assert.False(t, ok)
		_, ok = engine.Manager.Get("permission:u1:read")
		assert.True(t, ok)
	})

	t.Run("neither key nor prefix is a 400", func(t *testing.T) {
		router, _ := newTestServer(t, &stubSource{value: []byte("{}")})

		rec := doJSON(router, http.MethodPost, "/v1/invalidate", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Predictions(t *testing.T) {
	t.Run("returns ranked predictions", func(t *testing.T) {
		// Arrange
		router, engine := newTestServer(t, &stubSource{value: []byte("{}")})
		engine.Model.Update("/a", "/b")
		engine.Model.Update("/a", "/b")
		engine.Model.Update("/a", "/c")

		// Act
		rec := doJSON(router, http.MethodGet, "/v1/predictions?route=/a&k=2", "")

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		var predictions []navigation.Prediction
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &predictions))
		require.Len(t, predictions, 2)
		assert.Equal(t, "/b", predictions[0].Route)
	})

	t.Run("cold route returns an empty array", func(t *testing.T) {
		router, _ := newTestServer(t, &stubSource{value: []byte("{}")})

		rec := doJSON(router, http.MethodGet, "/v1/predictions?route=/nowhere", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("missing route is a 400", func(t *testing.T) {
		router, _ := newTestServer(t, &stubSource{value: []byte("{}")})

		rec := doJSON(router, http.MethodGet, "/v1/predictions", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Stats(t *testing.T) {
	// Arrange
	router, engine := newTestServer(t, &stubSource{value: []byte("{}")})
	engine.Manager.Set("permission:u1:read", []byte("x"), cache.CategoryPermission)
	engine.Manager.Get("permission:u1:read")
	engine.Manager.Get("permission:missing")

	// Act
	rec := doJSON(router, http.MethodGet, "/v1/stats", "")

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Counters  monitor.Snapshot `json:"counters"`
		SessionID string           `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Counters.Hits)
	assert.Equal(t, int64(1), stats.Counters.Misses)
	assert.Equal(t, engine.Tracker.SessionID(), stats.SessionID)
}

func TestServer_Metrics(t *testing.T) {
	// Arrange
	router, engine := newTestServer(t, &stubSource{value: []byte("{}")})
	engine.Monitor.CacheHit()

	// Act
	rec := doJSON(router, http.MethodGet, "/metrics", "")

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authcache_hits_total 1")
}
