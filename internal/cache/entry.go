package cache

import (
	"time"
)

// SchemaVersion tags every entry written by this build. Entries carrying a
// different version are treated as absent and reclaimed on read.
const SchemaVersion = 2

// Category classifies a cached authorization payload and selects its TTL
// and durable-key namespace.
type Category string

const (
	CategoryPermission       Category = "permission"
	CategoryEndpointMetadata Category = "endpoint"
	CategoryRoleAssignment   Category = "role"
)

// Entry is a single cached authorization payload. The manager owns entries;
// callers always receive copies.
type Entry struct {
	Key            string
	Value          []byte
	Category       Category
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	Version        int
}

// Expired reports whether the entry's TTL window has passed. An entry
// written with a zero TTL is always expired.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Clone returns a deep copy so cached state cannot be mutated by callers.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.Value = make([]byte, len(e.Value))
	copy(cp.Value, e.Value)
	return &cp
}

// TTLPolicy maps categories to their time-to-live.
type TTLPolicy struct {
	Permission       time.Duration
	EndpointMetadata time.Duration
	RoleAssignment   time.Duration
}

// DefaultTTLPolicy returns the standard per-category TTLs.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Permission:       time.Hour,
		EndpointMetadata: 24 * time.Hour,
		RoleAssignment:   30 * time.Minute,
	}
}

// For returns the TTL for a category. Unknown categories get the shortest
// TTL so a misclassified payload cannot outlive a correctly classified one.
func (p TTLPolicy) For(category Category) time.Duration {
	switch category {
	case CategoryPermission:
		return p.Permission
	case CategoryEndpointMetadata:
		return p.EndpointMetadata
	case CategoryRoleAssignment:
		return p.RoleAssignment
	default:
		return p.RoleAssignment
	}
}
