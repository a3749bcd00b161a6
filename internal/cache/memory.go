package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the process-lifetime cache tier: a hash map with LRU
// ordering for O(1) get, set and eviction. It never returns errors; an
// absent key is signalled by the bool return.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	lruList  *list.List

	// Statistics
	hits      int64
	misses    int64
	evictions int64

	onEvict func(n int)
}

// NewMemoryStore creates a memory store bounded to capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// SetEvictionHook registers a callback invoked with the number of entries
// evicted by capacity pressure. Used by the performance monitor.
func (s *MemoryStore) SetEvictionHook(fn func(n int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Get retrieves an entry. A hit refreshes LastAccessedAt and the LRU
// position. Expiry and version checks belong to the manager, not here.
func (s *MemoryStore) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.items[key]
	if !exists {
		s.misses++
		return nil, false
	}

	s.lruList.MoveToFront(elem)
	entry := elem.Value.(*Entry)
	entry.LastAccessedAt = time.Now()

	s.hits++
	return entry.Clone(), true
}

// Set stores an entry, replacing any existing value for the key. Inserting
// past capacity evicts the least-recently-accessed entry.
func (s *MemoryStore) Set(key string, entry *Entry) {
	s.mu.Lock()

	stored := entry.Clone()
	stored.Key = key

	if elem, exists := s.items[key]; exists {
		s.lruList.MoveToFront(elem)
		elem.Value = stored
		s.mu.Unlock()
		return
	}

	elem := s.lruList.PushFront(stored)
	s.items[key] = elem

	evicted := 0
	for s.capacity > 0 && s.lruList.Len() > s.capacity {
		if !s.evictOldest() {
			break
		}
		evicted++
	}
	fn := s.onEvict
	s.mu.Unlock()

	if evicted > 0 && fn != nil {
		fn(evicted)
	}
}

// Delete removes an entry if present.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, exists := s.items[key]; exists {
		s.lruList.Remove(elem)
		delete(s.items, key)
	}
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// the number removed.
func (s *MemoryStore) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, elem := range s.items {
		if strings.HasPrefix(key, prefix) {
			s.lruList.Remove(elem)
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// EvictLRU removes up to n least-recently-accessed entries and returns the
// number actually evicted.
func (s *MemoryStore) EvictLRU(n int) int {
	s.mu.Lock()

	evicted := 0
	for i := 0; i < n; i++ {
		if !s.evictOldest() {
			break
		}
		evicted++
	}
	fn := s.onEvict
	s.mu.Unlock()

	if evicted > 0 && fn != nil {
		fn(evicted)
	}
	return evicted
}

// evictOldest removes the entry at the back of the LRU list. Caller holds mu.
func (s *MemoryStore) evictOldest() bool {
	elem := s.lruList.Back()
	if elem == nil {
		return false
	}

	s.lruList.Remove(elem)
	entry := elem.Value.(*Entry)
	delete(s.items, entry.Key)
	s.evictions++
	return true
}

// Len returns the number of entries currently stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lruList.Len()
}

// MemoryStats holds memory-tier statistics.
type MemoryStats struct {
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
	Capacity  int
}

// HitRate calculates the memory-tier hit rate.
func (s *MemoryStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns current memory-tier statistics.
func (s *MemoryStore) Stats() *MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &MemoryStats{
		Items:     s.lruList.Len(),
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Capacity:  s.capacity,
	}
}

// Clear removes all entries and resets statistics.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.lruList = list.New()
	s.hits = 0
	s.misses = 0
	s.evictions = 0
}
