package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tiercache/tiercache/pkg/types"
)

// Optimizer turns a metrics snapshot plus a pattern report into ranked
// optimization recommendations. Analyze is a pure function of its inputs:
// rules are independent, may co-fire, and are not deduplicated here (the
// manager owns ordering and history).
type Optimizer struct {
	// MinSamples suppresses the statistical rules until a cache has seen
	// enough traffic to make them meaningful.
	MinSamples uint64

	LowHitRate          float64
	HotKeyShare         float64
	HighEvictionRate    float64
	SlowAccess          time.Duration
	DiskImbalanceFactor int64
	SparseHourShare     float64
	PeakHourBuckets     int
}

// NewOptimizer returns an optimizer with the default rule thresholds.
func NewOptimizer() *Optimizer {
	return &Optimizer{
		MinSamples:          10,
		LowHitRate:          0.6,
		HotKeyShare:         0.8,
		HighEvictionRate:    0.10,
		SlowAccess:          50 * time.Millisecond,
		DiskImbalanceFactor: 5,
		SparseHourShare:     0.10,
		PeakHourBuckets:     3,
	}
}

// Analyze applies every rule and returns the recommendations that fired.
func (o *Optimizer) Analyze(name string, metrics types.CacheMetrics, report PatternReport) []types.CacheRecommendation {
	var recs []types.CacheRecommendation
	now := time.Now()

	rec := func(kind types.RecommendationKind, description string, impact float64, cost types.ImplementationCost, improvement string) {
		recs = append(recs, types.CacheRecommendation{
			ID:                  uuid.NewString(),
			Cache:               name,
			Kind:                kind,
			Description:         description,
			ImpactScore:         impact,
			Cost:                cost,
			ExpectedImprovement: improvement,
			Timestamp:           now,
		})
	}

	enoughSamples := metrics.TotalRequests >= o.MinSamples

	// Low hit rate concentrated on few keys: frequency-based eviction
	// would keep the hot set resident.
	if enoughSamples && metrics.HitRate < o.LowHitRate && report.TotalAccesses > 0 {
		var hotCount int64
		for _, kc := range report.HotKeys {
			hotCount += kc.Count
		}
		if float64(hotCount)/float64(report.TotalAccesses) > o.HotKeyShare {
			rec(types.RecommendStrategyChange,
				fmt.Sprintf("hit rate %.2f with top keys taking %.0f%% of traffic; switch to frequency-based eviction",
					metrics.HitRate, 100*float64(hotCount)/float64(report.TotalAccesses)),
				0.8, types.CostLow,
				"keeps the hot key set resident, raising hit rate")
		}
	}

	// Eviction pressure: the cache is churning entries it still needs.
	if metrics.EvictionRate > o.HighEvictionRate {
		rec(types.RecommendResize,
			fmt.Sprintf("eviction rate %.2f exceeds %.2f; increase capacity", metrics.EvictionRate, o.HighEvictionRate),
			0.7, types.CostMedium,
			"fewer forced evictions of live entries")
	}

	// Slow accesses: shift share toward the memory tier.
	if metrics.AvgAccessTime > o.SlowAccess {
		rec(types.RecommendResize,
			fmt.Sprintf("average access time %s; grow the memory tier share", metrics.AvgAccessTime),
			0.6, types.CostLow,
			"more requests served from memory")
	}
	if metrics.DiskUsage > 0 && metrics.DiskUsage > o.DiskImbalanceFactor*metrics.MemoryUsage {
		rec(types.RecommendStrategyChange,
			fmt.Sprintf("disk usage %d is more than %dx memory usage %d; rebalance the tier ratio",
				metrics.DiskUsage, o.DiskImbalanceFactor, metrics.MemoryUsage),
			0.5, types.CostMedium,
			"promotes the working set out of the slow tier")
	}

	// Sparse recent traffic: most of the resident data is cold.
	if enoughSamples && float64(report.RecentHourAccesses) < o.SparseHourShare*float64(metrics.TotalRequests) {
		rec(types.RecommendCleanup,
			"under 10% of traffic in the last hour; shrink TTLs and purge cold data",
			0.4, types.CostLow,
			"reclaims space held by idle entries")
	}

	// Accesses concentrated in a few hour buckets: warm the cache before
	// the peak window.
	if enoughSamples && report.ActiveHourBuckets > 0 && report.ActiveHourBuckets <= o.PeakHourBuckets {
		rec(types.RecommendPreload,
			fmt.Sprintf("accesses cluster into %d hour bucket(s); preload ahead of the peak window", report.ActiveHourBuckets),
			0.6, types.CostMedium,
			"hot data resident before the traffic spike")
	}

	// Sequential correlation: keys that follow each other can be
	// prefetched.
	if len(report.Sequences) > 0 {
		rec(types.RecommendPreload,
			fmt.Sprintf("%d key sequence(s) detected; prefetch followers on access", len(report.Sequences)),
			0.7, types.CostHigh,
			"follower keys hit instead of missing")
	}

	return recs
}
