package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

// MemoryTier is a thread-safe, byte-accounted LRU cache with per-entry TTL.
// It is the L1 level of a multi-level cache.
type MemoryTier struct {
	mu          sync.Mutex
	maxEntries  int
	maxBytes    int64
	currentSize int64
	entries     map[string]*list.Element
	evictList   *list.List

	stats types.CacheStats
}

// NewMemoryTier creates a memory tier bounded by entry count and total bytes.
// A non-positive maxEntries or maxBytes disables that bound.
func NewMemoryTier(maxEntries int, maxBytes int64) *MemoryTier {
	return &MemoryTier{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		entries:    make(map[string]*list.Element),
		evictList:  list.New(),
		stats: types.CacheStats{
			Capacity: maxBytes,
		},
	}
}

// Get returns the value for key, or (nil, false) if the key is absent or
// its TTL has elapsed. A hit updates the entry's access metadata and moves
// it to the most-recently-used position.
func (m *MemoryTier) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalRequests++

	elem, ok := m.entries[key]
	if !ok {
		m.stats.Misses++
		return nil, false
	}

	entry := elem.Value.(*types.CacheEntry)
	now := time.Now()
	if entry.Expired(now) {
		// TTL discovery is a removal, not an eviction.
		m.removeElement(elem)
		m.stats.Misses++
		return nil, false
	}

	entry.Touch(now)
	m.evictList.MoveToFront(elem)
	m.stats.Hits++

	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)
	return value, true
}

// Put stores value under key with the given TTL (zero means no expiry).
// It returns false if the value alone exceeds the byte bound. Eviction of
// least-recently-used entries happens before insertion, so a successful
// Put never leaves the tier over capacity.
func (m *MemoryTier) Put(key string, value []byte, ttl time.Duration) bool {
	size := int64(len(value))
	if m.maxBytes > 0 && size > m.maxBytes {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Replace: drop the old entry before accounting the new one.
	if elem, ok := m.entries[key]; ok {
		m.removeElement(elem)
	}

	for m.overCommitted(size) && m.evictList.Len() > 0 {
		m.evictOldest()
	}

	now := time.Now()
	stored := make([]byte, len(value))
	copy(stored, value)
	entry := &types.CacheEntry{
		Key:          key,
		Value:        stored,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
		SizeBytes:    size,
	}

	m.entries[key] = m.evictList.PushFront(entry)
	m.currentSize += size
	return true
}

// Delete removes key and reports whether it was present.
func (m *MemoryTier) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return false
	}
	m.removeElement(elem)
	return true
}

// Clear removes every entry. Counters are preserved; the size gauge resets.
func (m *MemoryTier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*list.Element)
	m.evictList.Init()
	m.currentSize = 0
}

// PurgeExpired removes every entry whose TTL has elapsed and returns the
// number of entries removed. Called from the manager's maintenance tick.
func (m *MemoryTier) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	purged := 0
	for elem := m.evictList.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*types.CacheEntry).Expired(now) {
			m.removeElement(elem)
			purged++
		}
		elem = prev
	}
	return purged
}

// Stats returns a snapshot of the tier's counters, never the live struct.
func (m *MemoryTier) Stats() types.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.SizeBytes = m.currentSize
	if stats.TotalRequests > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalRequests)
	}
	if m.maxBytes > 0 {
		stats.Utilization = float64(m.currentSize) / float64(m.maxBytes)
	}
	return stats
}

// Len returns the number of resident entries.
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Contains reports whether key is resident and unexpired without counting
// a request or disturbing the LRU order.
func (m *MemoryTier) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return false
	}
	return !elem.Value.(*types.CacheEntry).Expired(time.Now())
}

// Keys returns the resident keys ordered from most to least recently used.
func (m *MemoryTier) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, m.evictList.Len())
	for elem := m.evictList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*types.CacheEntry).Key)
	}
	return keys
}

// Close implements types.Tier. The memory tier holds no external resources.
func (m *MemoryTier) Close() error {
	return nil
}

// overCommitted reports whether inserting incoming bytes would violate a
// bound. Entry count uses >= because the check runs before insertion.
func (m *MemoryTier) overCommitted(incoming int64) bool {
	if m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		return true
	}
	if m.maxBytes > 0 && m.currentSize+incoming > m.maxBytes {
		return true
	}
	return false
}

func (m *MemoryTier) evictOldest() {
	elem := m.evictList.Back()
	if elem == nil {
		return
	}
	m.removeElement(elem)
	m.stats.Evictions++
}

func (m *MemoryTier) removeElement(elem *list.Element) {
	entry := elem.Value.(*types.CacheEntry)
	m.evictList.Remove(elem)
	delete(m.entries, entry.Key)
	m.currentSize -= entry.SizeBytes
}
