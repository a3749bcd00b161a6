// Package monitor holds passive performance counters for the caching and
// prefetch engine. It observes, it never influences: components push counts
// through lightweight hooks and diagnostics read snapshots out.
package monitor

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	Evictions          int64   `json:"evictions"`
	PredictionsMade    int64   `json:"predictions_made"`
	PredictionsCorrect int64   `json:"predictions_correct"`
	PrefetchIssued     int64   `json:"prefetch_issued"`
	PrefetchFailed     int64   `json:"prefetch_failed"`
	HitRate            float64 `json:"hit_rate"`
	PredictionAccuracy float64 `json:"prediction_accuracy"`
}

// Monitor collects engine counters and mirrors them into a private
// Prometheus registry.
type Monitor struct {
	mu                 sync.Mutex
	hits               int64
	misses             int64
	evictions          int64
	predictionsMade    int64
	predictionsCorrect int64
	prefetchIssued     int64
	prefetchFailed     int64

	// Routes predicted in the current cycle; scored against the next
	// recorded navigation.
	pending map[string]struct{}

	registry     *prometheus.Registry
	hitCounter   prometheus.Counter
	missCounter  prometheus.Counter
	evictCounter prometheus.Counter
	predCounter  *prometheus.CounterVec
	prefCounter  *prometheus.CounterVec
}

// New creates a monitor with its own Prometheus registry.
func New() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		hitCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcache_hits_total",
			Help: "Total cache hits across both tiers",
		}),
		missCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcache_misses_total",
			Help: "Total cache misses",
		}),
		evictCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcache_evictions_total",
			Help: "Total memory-tier LRU evictions",
		}),
		predCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcache_predictions_total",
			Help: "Navigation predictions by outcome",
		}, []string{"outcome"}),
		prefCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcache_prefetch_total",
			Help: "Prefetch attempts by outcome",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.hitCounter, m.missCounter, m.evictCounter, m.predCounter, m.prefCounter)

	return m
}

// CacheHit implements cache.Hooks.
func (m *Monitor) CacheHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
	m.hitCounter.Inc()
}

// CacheMiss implements cache.Hooks.
func (m *Monitor) CacheMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	m.missCounter.Inc()
}

// CacheEvictions implements cache.Hooks.
func (m *Monitor) CacheEvictions(n int) {
	m.mu.Lock()
	m.evictions += int64(n)
	m.mu.Unlock()
	m.evictCounter.Add(float64(n))
}

// RecordPrediction notes the routes predicted for the current navigation
// cycle. The prediction counts as correct when the next recorded navigation
// lands on any of them.
func (m *Monitor) RecordPrediction(routes []string) {
	if len(routes) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.predictionsMade++
	m.pending = make(map[string]struct{}, len(routes))
	for _, route := range routes {
		m.pending[route] = struct{}{}
	}
}

// RecordNavigation scores the pending prediction, if any, against the route
// actually navigated to.
func (m *Monitor) RecordNavigation(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return
	}
	if _, ok := m.pending[route]; ok {
		m.predictionsCorrect++
		m.predCounter.WithLabelValues("correct").Inc()
	} else {
		m.predCounter.WithLabelValues("wrong").Inc()
	}
	m.pending = nil
}

// PrefetchIssued counts one prefetch attempt.
func (m *Monitor) PrefetchIssued() {
	m.mu.Lock()
	m.prefetchIssued++
	m.mu.Unlock()
	m.prefCounter.WithLabelValues("issued").Inc()
}

// PrefetchFailed counts one swallowed prefetch failure.
func (m *Monitor) PrefetchFailed() {
	m.mu.Lock()
	m.prefetchFailed++
	m.mu.Unlock()
	m.prefCounter.WithLabelValues("failed").Inc()
}

// Snapshot returns a copy of all counters with derived rates.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Hits:               m.hits,
		Misses:             m.misses,
		Evictions:          m.evictions,
		PredictionsMade:    m.predictionsMade,
		PredictionsCorrect: m.predictionsCorrect,
		PrefetchIssued:     m.prefetchIssued,
		PrefetchFailed:     m.prefetchFailed,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if s.PredictionsMade > 0 {
		s.PredictionAccuracy = float64(s.PredictionsCorrect) / float64(s.PredictionsMade)
	}
	return s
}

// Handler serves the private registry in Prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
