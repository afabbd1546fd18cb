package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

// MultiLevelCache composes a fast L1 tier and an optional persistent L2
// tier behind a single get/put/delete/clear surface. A hit in a lower
// level promotes the value into every level above it, so the next lookup
// is served without touching the slower tier.
//
// The coordinator owns no entries itself, only references to its tiers.
type MultiLevelCache struct {
	levels     []tierLevel
	defaultTTL time.Duration

	statsMu   sync.Mutex
	requests  uint64
	hits      uint64
	misses    uint64
	avgAccess time.Duration
}

type tierLevel struct {
	name string
	tier types.Tier
}

// NewMultiLevelCache builds a coordinator over the given tiers. l2 may be
// nil for a memory-only cache. Values promoted or written without an
// explicit TTL receive defaultTTL.
func NewMultiLevelCache(l1 types.Tier, l2 types.Tier, defaultTTL time.Duration) *MultiLevelCache {
	levels := []tierLevel{{name: "L1", tier: l1}}
	if l2 != nil {
		levels = append(levels, tierLevel{name: "L2", tier: l2})
	}
	return &MultiLevelCache{
		levels:     levels,
		defaultTTL: defaultTTL,
	}
}

// Get tries each level in order. A hit below L1 is promoted upward with
// the cache's default TTL before the value is returned.
func (c *MultiLevelCache) Get(key string) ([]byte, bool) {
	start := time.Now()

	for i, level := range c.levels {
		value, ok := level.tier.Get(key)
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			c.levels[j].tier.Put(key, value, c.defaultTTL)
		}
		c.recordHit()
		c.recordLatency(time.Since(start))
		return value, true
	}

	c.recordMiss()
	c.recordLatency(time.Since(start))
	return nil, false
}

// Put writes the value to every configured tier. The overall result is
// true only when all tiers accepted the write; tiers that succeeded keep
// their copy regardless (no rollback).
func (c *MultiLevelCache) Put(key string, value []byte, ttl time.Duration) bool {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	ok := true
	for _, level := range c.levels {
		if !level.tier.Put(key, value, ttl) {
			ok = false
		}
	}
	return ok
}

// Delete removes the key from every tier; the result is the logical AND
// of the per-tier results.
func (c *MultiLevelCache) Delete(key string) bool {
	ok := true
	for _, level := range c.levels {
		if !level.tier.Delete(key) {
			ok = false
		}
	}
	return ok
}

// Clear empties every tier.
func (c *MultiLevelCache) Clear() {
	for _, level := range c.levels {
		level.tier.Clear()
	}
}

// PurgeExpired sweeps TTL-expired entries from every tier that supports
// purging and returns the total removed.
func (c *MultiLevelCache) PurgeExpired() int {
	purged := 0
	for _, level := range c.levels {
		if purger, ok := level.tier.(interface{ PurgeExpired() int }); ok {
			purged += purger.PurgeExpired()
		}
	}
	return purged
}

// Close closes every tier, returning the first error encountered.
func (c *MultiLevelCache) Close() error {
	var firstErr error
	for _, level := range c.levels {
		if err := level.tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TierStats returns a per-level snapshot keyed by level name.
func (c *MultiLevelCache) TierStats() map[string]types.CacheStats {
	stats := make(map[string]types.CacheStats, len(c.levels))
	for _, level := range c.levels {
		stats[level.name] = level.tier.Stats()
	}
	return stats
}

// Metrics derives the per-cache snapshot consumed by the optimizer and
// the registry's global remediation loop.
func (c *MultiLevelCache) Metrics(name string) types.CacheMetrics {
	tierStats := c.TierStats()

	c.statsMu.Lock()
	requests := c.requests
	hits := c.hits
	avgAccess := c.avgAccess
	c.statsMu.Unlock()

	var hitRate float64
	if requests > 0 {
		hitRate = float64(hits) / float64(requests)
	}

	var evictions uint64
	for _, stats := range tierStats {
		evictions += stats.Evictions
	}
	var evictionRate float64
	if requests > 0 {
		evictionRate = float64(evictions) / float64(requests)
	}

	return types.CacheMetrics{
		Name:          name,
		HitRate:       hitRate,
		MissRate:      1 - hitRate,
		EvictionRate:  evictionRate,
		MemoryUsage:   tierStats["L1"].SizeBytes,
		DiskUsage:     tierStats["L2"].SizeBytes,
		AvgAccessTime: avgAccess,
		Efficiency:    types.ComputeEfficiency(hitRate, avgAccess),
		TotalRequests: requests,
		Timestamp:     time.Now(),
	}
}

func (c *MultiLevelCache) recordHit() {
	c.statsMu.Lock()
	c.requests++
	c.hits++
	c.statsMu.Unlock()
}

func (c *MultiLevelCache) recordMiss() {
	c.statsMu.Lock()
	c.requests++
	c.misses++
	c.statsMu.Unlock()
}

// recordLatency folds one access sample into the running average:
// avg = (avg·(n-1) + sample) / n.
func (c *MultiLevelCache) recordLatency(sample time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	n := int64(c.requests)
	if n <= 1 {
		c.avgAccess = sample
		return
	}
	c.avgAccess = time.Duration((int64(c.avgAccess)*(n-1) + int64(sample)) / n)
}

// DeriveCacheKey builds a deterministic cache key from an ordered argument
// list plus sorted attribute pairs, then hashes it so the result is stable
// across process runs (disk blob filenames depend on it).
func DeriveCacheKey(args []string, attrs map[string]string) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(arg)
	}

	if len(attrs) > 0 {
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(attrs[k])
		}
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash[:16])
}
