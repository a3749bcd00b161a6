package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"go.uber.org/zap"
)

// durableRecord is the serialized shape of an entry in the durable tier.
type durableRecord struct {
	Key            string    `json:"key"`
	Value          []byte    `json:"value"`
	Category       Category  `json:"category"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Version        int       `json:"version"`
}

// DurableStore is the persistence tier. It namespaces keys with the schema
// version, serializes entries as snappy-compressed JSON and degrades
// gracefully when the underlying KV runs out of quota.
type DurableStore struct {
	kv     KV
	logger *zap.Logger

	// Fraction of entries evicted (oldest first) when a write hits the
	// quota, before the single retry.
	evictFraction float64
}

// NewDurableStore wraps a KV backend.
func NewDurableStore(kv KV, logger *zap.Logger) *DurableStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DurableStore{
		kv:            kv,
		logger:        logger,
		evictFraction: 0.2,
	}
}

// namespacedKey prefixes a logical key with the schema version, e.g.
// "v2:permission:user123:resource456". A version bump makes every old key
// unreadable without a migration pass.
func namespacedKey(key string) string {
	return fmt.Sprintf("v%d:%s", SchemaVersion, key)
}

// Get reads an entry. Version-mismatched or undecodable records are deleted
// opportunistically and reported as absent. Expiry is the manager's call.
func (d *DurableStore) Get(key string) (*Entry, bool) {
	raw, ok, err := d.kv.Get(namespacedKey(key))
	if err != nil {
		d.logger.Warn("durable read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	entry, err := decodeRecord(raw)
	if err != nil || entry.Version != SchemaVersion {
		_ = d.kv.Delete(namespacedKey(key))
		return nil, false
	}
	return entry, true
}

// Set writes an entry. On ErrQuotaExceeded it evicts the oldest entries by
// LastAccessedAt and retries once; if the retry also fails the write is
// dropped and only the memory tier holds the value for this session.
func (d *DurableStore) Set(key string, entry *Entry) error {
	raw, err := encodeRecord(entry)
	if err != nil {
		return fmt.Errorf("durable: encoding %q: %w", key, err)
	}

	err = d.kv.Set(namespacedKey(key), raw)
	if err == nil {
		return nil
	}
	if err != ErrQuotaExceeded {
		return fmt.Errorf("durable: writing %q: %w", key, err)
	}

	d.evictOldest()

	if err := d.kv.Set(namespacedKey(key), raw); err != nil {
		d.logger.Debug("durable write dropped after quota eviction",
			zap.String("key", key), zap.Error(err))
		return ErrQuotaExceeded
	}
	return nil
}

// Delete removes an entry if present.
func (d *DurableStore) Delete(key string) {
	if err := d.kv.Delete(namespacedKey(key)); err != nil {
		d.logger.Warn("durable delete failed", zap.String("key", key), zap.Error(err))
	}
}

// DeletePrefix removes every entry whose logical key starts with prefix and
// returns the number removed.
func (d *DurableStore) DeletePrefix(prefix string) int {
	keys, err := d.kv.Keys()
	if err != nil {
		d.logger.Warn("durable key listing failed", zap.Error(err))
		return 0
	}

	namespaced := namespacedKey(prefix)
	removed := 0
	for _, key := range keys {
		if strings.HasPrefix(key, namespaced) {
			if err := d.kv.Delete(key); err == nil {
				removed++
			}
		}
	}
	return removed
}

// Sweep removes expired and stale-versioned records. Invoked by the
// manager's low-priority sweeper to reclaim quota; correctness never depends
// on it because reads validate lazily.
func (d *DurableStore) Sweep(now time.Time) int {
	keys, err := d.kv.Keys()
	if err != nil {
		d.logger.Warn("durable key listing failed", zap.Error(err))
		return 0
	}

	prefix := fmt.Sprintf("v%d:", SchemaVersion)
	removed := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			// Old schema version, never readable again.
			if err := d.kv.Delete(key); err == nil {
				removed++
			}
			continue
		}

		raw, ok, err := d.kv.Get(key)
		if err != nil || !ok {
			continue
		}
		entry, err := decodeRecord(raw)
		if err != nil || entry.Version != SchemaVersion || entry.Expired(now) {
			if err := d.kv.Delete(key); err == nil {
				removed++
			}
		}
	}
	return removed
}

// evictOldest drops the oldest evictFraction of entries by LastAccessedAt
// across all categories.
func (d *DurableStore) evictOldest() {
	keys, err := d.kv.Keys()
	if err != nil || len(keys) == 0 {
		return
	}

	type aged struct {
		key  string
		last time.Time
	}
	entries := make([]aged, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := d.kv.Get(key)
		if err != nil || !ok {
			continue
		}
		entry, err := decodeRecord(raw)
		if err != nil {
			// Undecodable records are the cheapest quota to reclaim.
			_ = d.kv.Delete(key)
			continue
		}
		entries = append(entries, aged{key: key, last: entry.LastAccessedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].last.Before(entries[j].last)
	})

	count := int(float64(len(entries)) * d.evictFraction)
	if count < 1 {
		count = 1
	}
	for i := 0; i < count && i < len(entries); i++ {
		_ = d.kv.Delete(entries[i].key)
	}

	d.logger.Debug("durable quota eviction pass", zap.Int("evicted", count))
}

func encodeRecord(entry *Entry) ([]byte, error) {
	rec := durableRecord{
		Key:            entry.Key,
		Value:          entry.Value,
		Category:       entry.Category,
		CreatedAt:      entry.CreatedAt,
		ExpiresAt:      entry.ExpiresAt,
		LastAccessedAt: entry.LastAccessedAt,
		Version:        entry.Version,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeRecord(raw []byte) (*Entry, error) {
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, err
	}
	var rec durableRecord
	if err := json.Unmarshal(decoded, &rec); err != nil {
		return nil, err
	}
	return &Entry{
		Key:            rec.Key,
		Value:          rec.Value,
		Category:       rec.Category,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
		LastAccessedAt: rec.LastAccessedAt,
		Version:        rec.Version,
	}, nil
}
