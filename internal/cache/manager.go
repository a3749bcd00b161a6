package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader fetches an authorization payload from the authoritative source.
// It is supplied by the caller; any timeout is the caller's to impose via ctx.
type Loader func(ctx context.Context) ([]byte, error)

// Hooks receives lightweight notifications from the manager. Implemented by
// the performance monitor; all methods must be cheap and non-blocking.
type Hooks interface {
	CacheHit()
	CacheMiss()
	CacheEvictions(n int)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	TTL   TTLPolicy
	Hooks Hooks
	// Now is the clock; defaults to time.Now. Injectable for TTL tests.
	Now func() time.Time
}

// Manager composes the memory and durable tiers into a single two-tier
// authorization cache with TTL expiry, invalidation, write-through promotion
// and single-flight warming.
type Manager struct {
	memory  *MemoryStore
	durable *DurableStore
	ttl     TTLPolicy
	hooks   Hooks
	now     func() time.Time
	logger  *zap.Logger
	flight  singleflight.Group
}

// NewManager creates a manager over the given tiers. The durable tier may be
// nil, in which case the cache is memory-only.
func NewManager(memory *MemoryStore, durable *DurableStore, logger *zap.Logger, opts ManagerOptions) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTL == (TTLPolicy{}) {
		opts.TTL = DefaultTTLPolicy()
	}

	m := &Manager{
		memory:  memory,
		durable: durable,
		ttl:     opts.TTL,
		hooks:   opts.Hooks,
		now:     opts.Now,
		logger:  logger,
	}

	if opts.Hooks != nil {
		memory.SetEvictionHook(opts.Hooks.CacheEvictions)
	}

	return m
}

// Get returns the cached value for key, checking memory then the durable
// tier. A durable hit is promoted into memory before returning. Both tiers
// validate expiry and schema version; a stale entry is removed and reported
// as a miss.
func (m *Manager) Get(key string) ([]byte, bool) {
	now := m.now()

	if entry, ok := m.memory.Get(key); ok {
		if m.valid(entry, now) {
			m.hit()
			return entry.Value, true
		}
		m.memory.Delete(key)
		if m.durable != nil {
			m.durable.Delete(key)
		}
	}

	if m.durable != nil {
		if entry, ok := m.durable.Get(key); ok {
			if m.valid(entry, now) {
				entry.LastAccessedAt = now
				m.memory.Set(key, entry)
				m.hit()
				return entry.Value, true
			}
			m.durable.Delete(key)
		}
	}

	m.miss()
	return nil, false
}

// Set caches value under key with the category's TTL. The memory tier always
// receives the write; the durable tier is best-effort and quota failures
// degrade to memory-only for this entry.
func (m *Manager) Set(key string, value []byte, category Category) {
	now := m.now()
	entry := &Entry{
		Key:            key,
		Value:          value,
		Category:       category,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl.For(category)),
		LastAccessedAt: now,
		Version:        SchemaVersion,
	}

	m.memory.Set(key, entry)

	if m.durable != nil {
		if err := m.durable.Set(key, entry); err != nil {
			m.logger.Debug("durable tier unavailable for entry",
				zap.String("key", key), zap.Error(err))
		}
	}
}

// Invalidate removes key from both tiers immediately. Called by the
// authorization service when the authoritative data changes.
func (m *Manager) Invalidate(key string) {
	m.memory.Delete(key)
	if m.durable != nil {
		m.durable.Delete(key)
	}
}

// InvalidatePrefix removes every key with the given prefix from both tiers.
func (m *Manager) InvalidatePrefix(prefix string) {
	removed := m.memory.DeletePrefix(prefix)
	if m.durable != nil {
		removed += m.durable.DeletePrefix(prefix)
	}
	m.logger.Debug("prefix invalidation",
		zap.String("prefix", prefix), zap.Int("removed", removed))
}

// Warm ensures key is cached, invoking loader at most once even under
// concurrent calls for the same key: later callers attach to the in-flight
// load and receive the same value or the same failure. A loader failure is
// never cached and the flight is cleared so the next call can retry.
func (m *Manager) Warm(ctx context.Context, key string, category Category, loader Loader) ([]byte, error) {
	if value, ok := m.Get(key); ok {
		return value, nil
	}

	value, err, _ := m.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent Set or a finished sibling
		// load may have populated the cache between the miss and here.
		if value, ok := m.Get(key); ok {
			return value, nil
		}

		value, err := loader(ctx)
		if err != nil {
			return nil, fmt.Errorf("cache warm %q: %w", key, err)
		}

		m.Set(key, value, category)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// StartSweeper runs a low-priority background sweep of the durable tier
// every interval until ctx is cancelled. Reads validate expiry lazily, so
// the sweep only reclaims quota.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if m.durable == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := m.durable.Sweep(m.now())
				if removed > 0 {
					m.logger.Debug("durable sweep", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// MemoryStats exposes memory-tier statistics for diagnostics.
func (m *Manager) MemoryStats() *MemoryStats {
	return m.memory.Stats()
}

func (m *Manager) valid(entry *Entry, now time.Time) bool {
	return entry.Version == SchemaVersion && !entry.Expired(now)
}

func (m *Manager) hit() {
	if m.hooks != nil {
		m.hooks.CacheHit()
	}
}

func (m *Manager) miss() {
	if m.hooks != nil {
		m.hooks.CacheMiss()
	}
}
