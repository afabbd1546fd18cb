package types

import "time"

// Tier is one storage backend in the multi-level cache hierarchy.
// Implementations must be safe for concurrent use.
//
// Get returns (nil, false) for absent or expired keys. Put returns false
// when the value cannot be stored (oversized for the tier, or the tier's
// backing store failed); tier-local failures never surface as errors.
type Tier interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte, ttl time.Duration) bool
	Delete(key string) bool
	Clear()
	Stats() CacheStats
	Len() int
	Close() error
}
