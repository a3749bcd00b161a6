package cache

import (
	"sync"
)

// memKV is an in-memory KV backend for tests with scriptable quota
// behaviour.
type memKV struct {
	mu        sync.Mutex
	data      map[string][]byte
	maxKeys   int
	failEvery bool // every Set fails with ErrQuotaExceeded
	sets      int
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (kv *memKV) Get(key string) ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	value, ok := kv.data[key]
	return value, ok, nil
}

func (kv *memKV) Set(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	kv.sets++
	if kv.failEvery {
		return ErrQuotaExceeded
	}
	if kv.maxKeys > 0 {
		if _, exists := kv.data[key]; !exists && len(kv.data) >= kv.maxKeys {
			return ErrQuotaExceeded
		}
	}
	kv.data[key] = value
	return nil
}

func (kv *memKV) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

func (kv *memKV) Keys() ([]string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	keys := make([]string, 0, len(kv.data))
	for key := range kv.data {
		keys = append(keys, key)
	}
	return keys, nil
}

func (kv *memKV) len() int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return len(kv.data)
}
