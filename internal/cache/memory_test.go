package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(key, value string) *Entry {
	now := time.Now()
	return &Entry{
		Key:            key,
		Value:          []byte(value),
		Category:       CategoryPermission,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastAccessedAt: now,
		Version:        SchemaVersion,
	}
}

func TestMemoryStore_Basic(t *testing.T) {
	t.Run("set and get entry", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(3)

		// Act
		store.Set("permission:u1:r1", testEntry("permission:u1:r1", `{"allow":true}`))
		entry, ok := store.Get("permission:u1:r1")

		// Assert
		require.True(t, ok, "should be a hit")
		assert.Equal(t, `{"allow":true}`, string(entry.Value))
	})

	t.Run("miss returns sentinel, not error", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(3)

		// Act
		entry, ok := store.Get("missing")

		// Assert
		assert.False(t, ok)
		assert.Nil(t, entry)
	})

	t.Run("callers receive copies", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(3)
		store.Set("k", testEntry("k", "original"))

		// Act - mutate the returned value
		entry, ok := store.Get("k")
		require.True(t, ok)
		entry.Value[0] = 'X'

		// Assert - cached state unchanged
		again, ok := store.Get("k")
		require.True(t, ok)
		assert.Equal(t, "original", string(again.Value))
	})

	t.Run("delete removes entry", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(3)
		store.Set("k", testEntry("k", "v"))

		// Act
		store.Delete("k")

		// Assert
		_, ok := store.Get("k")
		assert.False(t, ok)
	})

	t.Run("delete prefix removes matching entries", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(10)
		store.Set("permission:u1:r1", testEntry("permission:u1:r1", "a"))
		store.Set("permission:u1:r2", testEntry("permission:u1:r2", "b"))
		store.Set("role:u1", testEntry("role:u1", "c"))

		// Act
		removed := store.DeletePrefix("permission:u1:")

		// Assert
		assert.Equal(t, 2, removed)
		_, ok := store.Get("role:u1")
		assert.True(t, ok, "non-matching entry survives")
	})
}

func TestMemoryStore_LRU(t *testing.T) {
	t.Run("evicts least recently used on overflow", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(2)

		// Act - insert three entries into a store bounded to two
		store.Set("a", testEntry("a", "1"))
		store.Set("b", testEntry("b", "2"))
		store.Set("c", testEntry("c", "3"))

		// Assert - a is the LRU and gets evicted
		_, hitA := store.Get("a")
		_, hitB := store.Get("b")
		_, hitC := store.Get("c")
		assert.False(t, hitA, "a should be evicted")
		assert.True(t, hitB)
		assert.True(t, hitC)
	})

	t.Run("read refreshes LRU position", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(2)
		store.Set("a", testEntry("a", "1"))
		store.Set("b", testEntry("b", "2"))

		// Act - touch a so b becomes the eviction candidate
		_, _ = store.Get("a")
		store.Set("c", testEntry("c", "3"))

		// Assert
		_, hitA := store.Get("a")
		_, hitB := store.Get("b")
		assert.True(t, hitA, "a was refreshed by the read")
		assert.False(t, hitB, "b should be evicted")
	})

	t.Run("EvictLRU removes n oldest", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(10)
		for i := 0; i < 5; i++ {
			key := fmt.Sprintf("k%d", i)
			store.Set(key, testEntry(key, "v"))
		}

		// Act
		evicted := store.EvictLRU(3)

		// Assert - k0..k2 gone, k3/k4 remain
		assert.Equal(t, 3, evicted)
		assert.Equal(t, 2, store.Len())
		_, ok := store.Get("k4")
		assert.True(t, ok)
	})

	t.Run("eviction hook observes capacity evictions", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(1)
		var observed int
		store.SetEvictionHook(func(n int) { observed += n })

		// Act
		store.Set("a", testEntry("a", "1"))
		store.Set("b", testEntry("b", "2"))

		// Assert
		assert.Equal(t, 1, observed)
	})
}

func TestMemoryStore_Stats(t *testing.T) {
	t.Run("tracks hits, misses and evictions", func(t *testing.T) {
		// Arrange
		store := NewMemoryStore(1)
		store.Set("a", testEntry("a", "1"))

		// Act
		_, _ = store.Get("a")       // hit
		_, _ = store.Get("missing") // miss
		store.Set("b", testEntry("b", "2")) // evicts a

		stats := store.Stats()

		// Assert
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(1), stats.Misses)
		assert.Equal(t, int64(1), stats.Evictions)
		assert.Equal(t, 0.5, stats.HitRate())
	})
}
