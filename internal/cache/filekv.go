package cache

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileKVSuffix = ".cache"

// FileKV is a file-per-key KV backend with a byte quota. It is the default
// durable tier for embedded deployments.
type FileKV struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	curBytes int64
	sizes    map[string]int64
}

// NewFileKV creates a file-backed KV under dir, bounded to maxBytes. The
// directory is created if missing and existing entries are indexed so the
// quota survives restarts.
func NewFileKV(dir string, maxBytes int64) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("filekv: creating dir: %w", err)
	}

	kv := &FileKV{
		dir:      dir,
		maxBytes: maxBytes,
		sizes:    make(map[string]int64),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("filekv: indexing dir: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileKVSuffix) {
			continue
		}
		key, err := decodeFileKey(de.Name())
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		kv.sizes[key] = info.Size()
		kv.curBytes += info.Size()
	}

	return kv, nil
}

// Keys may contain separators and arbitrary bytes, so filenames carry the
// encoded form.
func encodeFileKey(key string) string {
	return base64.URLEncoding.EncodeToString([]byte(key)) + fileKVSuffix
}

func decodeFileKey(name string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSuffix(name, fileKVSuffix))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (kv *FileKV) path(key string) string {
	return filepath.Join(kv.dir, encodeFileKey(key))
}

// Get reads the value for key. Absent keys return (nil, false, nil).
func (kv *FileKV) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(kv.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("filekv: reading %q: %w", key, err)
	}
	return data, true, nil
}

// Set writes the value for key, returning ErrQuotaExceeded when the write
// would push the store past its byte quota.
func (kv *FileKV) Set(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	newSize := int64(len(value))
	projected := kv.curBytes - kv.sizes[key] + newSize
	if kv.maxBytes > 0 && projected > kv.maxBytes {
		return ErrQuotaExceeded
	}

	if err := os.WriteFile(kv.path(key), value, 0640); err != nil {
		return fmt.Errorf("filekv: writing %q: %w", key, err)
	}

	kv.curBytes = projected
	kv.sizes[key] = newSize
	return nil
}

// Delete removes the value for key. Deleting an absent key is a no-op.
func (kv *FileKV) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := os.Remove(kv.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filekv: deleting %q: %w", key, err)
	}
	kv.curBytes -= kv.sizes[key]
	delete(kv.sizes, key)
	return nil
}

// Keys returns all stored keys in no particular order.
func (kv *FileKV) Keys() ([]string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	keys := make([]string, 0, len(kv.sizes))
	for key := range kv.sizes {
		keys = append(keys, key)
	}
	return keys, nil
}
