package cache

import "errors"

// ErrQuotaExceeded is returned by a KV backend when a write would exceed its
// storage quota. The durable store recovers from it locally; it is never
// surfaced to manager callers.
var ErrQuotaExceeded = errors.New("cache: kv quota exceeded")

// KV is the capability interface the durable tier is built on. Any
// quota-limited key-value primitive (file-backed store, embedded database,
// browser storage behind a bridge) can satisfy it.
//
// Get returns (nil, false, nil) for an absent key; absence is not an error.
// Set returns ErrQuotaExceeded when the write does not fit.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys() ([]string, error)
}
