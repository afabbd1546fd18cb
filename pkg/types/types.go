package types

import (
	"time"
)

// CacheType classifies what a named cache holds. The type is informational
// except for TEMPORARY, which global disk remediation clears first.
type CacheType string

const (
	CacheTypeData        CacheType = "data"
	CacheTypeComputation CacheType = "computation"
	CacheTypeUI          CacheType = "ui"
	CacheTypePerformance CacheType = "performance"
	CacheTypeTemporary   CacheType = "temporary"
)

// EvictionStrategy names the eviction algorithm for a cache. Only LRU is
// backed by a real eviction implementation; the remaining strategies are
// advisory labels the optimizer may recommend.
type EvictionStrategy string

const (
	StrategyLRU        EvictionStrategy = "lru"
	StrategyLFU        EvictionStrategy = "lfu"
	StrategyFIFO       EvictionStrategy = "fifo"
	StrategyAdaptive   EvictionStrategy = "adaptive"
	StrategyPredictive EvictionStrategy = "predictive"
)

// CachePriority orders caches for global reclamation. Lower priorities are
// reclaimed first under memory pressure.
type CachePriority int

const (
	PriorityDisposable CachePriority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the string representation of the priority.
func (p CachePriority) String() string {
	switch p {
	case PriorityDisposable:
		return "disposable"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// CacheEntry is a single cached value with its lifecycle metadata.
// SizeBytes reflects the serialized footprint at insertion time and is
// never recomputed afterwards.
type CacheEntry struct {
	Key          string        `json:"key"`
	Value        []byte        `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	AccessCount  int64         `json:"access_count"`
	TTL          time.Duration `json:"ttl"`
	SizeBytes    int64         `json:"size_bytes"`
}

// Expired reports whether the entry's TTL has elapsed since creation.
// A zero TTL means the entry never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e.TTL == 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > e.TTL
}

// Touch records an access.
func (e *CacheEntry) Touch(now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
}

// CacheStats is a point-in-time snapshot of tier performance counters.
type CacheStats struct {
	TotalRequests uint64  `json:"total_requests"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	SizeBytes     int64   `json:"size_bytes"`
	Capacity      int64   `json:"capacity"`
	HitRate       float64 `json:"hit_rate"`
	Utilization   float64 `json:"utilization"`
}

// CacheConfiguration describes a named cache at registration time.
// Configurations are immutable once registered; changing the strategy
// requires unregistering and re-registering the cache.
type CacheConfiguration struct {
	Name            string           `yaml:"name" json:"name"`
	Type            CacheType        `yaml:"type" json:"type"`
	Strategy        EvictionStrategy `yaml:"strategy" json:"strategy"`
	Priority        CachePriority    `yaml:"priority" json:"priority"`
	MaxEntries      int              `yaml:"max_entries" json:"max_entries"`
	MaxMemoryBytes  int64            `yaml:"max_memory_bytes" json:"max_memory_bytes"`
	MaxDiskBytes    int64            `yaml:"max_disk_bytes" json:"max_disk_bytes"`
	DiskDirectory   string           `yaml:"disk_directory" json:"disk_directory"`
	DiskCompress    bool             `yaml:"disk_compress" json:"disk_compress"`
	DefaultTTL      time.Duration    `yaml:"default_ttl" json:"default_ttl"`
	CleanupInterval time.Duration    `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// CacheMetrics is a derived per-cache snapshot produced during maintenance.
type CacheMetrics struct {
	Name          string        `json:"name"`
	HitRate       float64       `json:"hit_rate"`
	MissRate      float64       `json:"miss_rate"`
	EvictionRate  float64       `json:"eviction_rate"`
	MemoryUsage   int64         `json:"memory_usage"`
	DiskUsage     int64         `json:"disk_usage"`
	AvgAccessTime time.Duration `json:"avg_access_time"`
	Efficiency    float64       `json:"efficiency"`
	TotalRequests uint64        `json:"total_requests"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ComputeEfficiency combines hit rate and access speed into a single
// 0..1 score: 0.7·hit_rate + 0.3·speed, where speed degrades linearly to
// zero as average access time approaches 100ms.
func ComputeEfficiency(hitRate float64, avgAccess time.Duration) float64 {
	speed := 1.0 - float64(avgAccess.Milliseconds())/100.0
	if speed < 0 {
		speed = 0
	}
	return 0.7*hitRate + 0.3*speed
}

// RecommendationKind identifies what an optimization recommendation asks for.
type RecommendationKind string

const (
	RecommendResize         RecommendationKind = "resize"
	RecommendStrategyChange RecommendationKind = "strategy_change"
	RecommendCleanup        RecommendationKind = "cleanup"
	RecommendPreload        RecommendationKind = "preload"
)

// ImplementationCost grades how expensive a recommendation is to apply.
type ImplementationCost string

const (
	CostLow    ImplementationCost = "low"
	CostMedium ImplementationCost = "medium"
	CostHigh   ImplementationCost = "high"
)

// CacheRecommendation is an advisory optimization suggestion emitted by the
// optimizer. ImpactScore is in [0,1].
type CacheRecommendation struct {
	ID                  string             `json:"id"`
	Cache               string             `json:"cache"`
	Kind                RecommendationKind `json:"kind"`
	Description         string             `json:"description"`
	ImpactScore         float64            `json:"impact_score"`
	Cost                ImplementationCost `json:"implementation_cost"`
	ExpectedImprovement string             `json:"expected_improvement"`
	Timestamp           time.Time          `json:"timestamp"`
}

// AccessEvent records a single cache access for pattern analysis.
type AccessEvent struct {
	Key       string    `json:"key"`
	Hit       bool      `json:"hit"`
	Timestamp time.Time `json:"timestamp"`
}
