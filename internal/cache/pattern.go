package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

const (
	// defaultEventCapacity bounds the analyzer's event ring buffer.
	defaultEventCapacity = 1000
	// keyHistoryCap bounds the per-key timestamp history.
	keyHistoryCap = 100
	// sequenceWindow is how many recent events feed successor detection.
	sequenceWindow = 50
	// predictionWindow is how many recent accesses feed the inter-arrival
	// estimate.
	predictionWindow = 10
)

// PatternAnalyzer accumulates access events and derives the signals the
// optimizer consumes: hot-key ranking, per-key frequency, next-access
// prediction, and key-follows-key correlation.
type PatternAnalyzer struct {
	mu       sync.Mutex
	capacity int
	events   []types.AccessEvent

	keyStats map[string]*keyHistory
	nextSeen int
	total    uint64
}

// keyHistory tracks one key's observed accesses. The timestamp history is
// capped; the total count is not.
type keyHistory struct {
	count      int64
	timestamps []time.Time
	seenOrder  int
}

// KeyCount pairs a key with its all-time access count.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// PatternReport is a point-in-time summary handed to the optimizer.
type PatternReport struct {
	HotKeys            []KeyCount        `json:"hot_keys"`
	TotalAccesses      uint64            `json:"total_accesses"`
	RecentHourAccesses int               `json:"recent_hour_accesses"`
	ActiveHourBuckets  int               `json:"active_hour_buckets"`
	Sequences          map[string]string `json:"sequences"`
}

// NewPatternAnalyzer creates an analyzer with the given event-buffer
// capacity; non-positive capacity selects the default.
func NewPatternAnalyzer(capacity int) *PatternAnalyzer {
	if capacity <= 0 {
		capacity = defaultEventCapacity
	}
	return &PatternAnalyzer{
		capacity: capacity,
		events:   make([]types.AccessEvent, 0, capacity),
		keyStats: make(map[string]*keyHistory),
	}
}

// Record adds one access observation. The event buffer drops its oldest
// entry on overflow; per-key counters grow without bound but keep only the
// most recent timestamps.
func (p *PatternAnalyzer) Record(key string, hit bool, ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, types.AccessEvent{Key: key, Hit: hit, Timestamp: ts})
	if len(p.events) > p.capacity {
		p.events = p.events[1:]
	}
	p.total++

	hist, ok := p.keyStats[key]
	if !ok {
		hist = &keyHistory{seenOrder: p.nextSeen}
		p.nextSeen++
		p.keyStats[key] = hist
	}
	hist.count++
	hist.timestamps = append(hist.timestamps, ts)
	if len(hist.timestamps) > keyHistoryCap {
		hist.timestamps = hist.timestamps[1:]
	}
}

// HotKeys returns the top-n keys by all-time access count, descending,
// with ties broken by first-seen order.
func (p *PatternAnalyzer) HotKeys(n int) []string {
	ranked := p.rankedKeys()
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	keys := make([]string, len(ranked))
	for i, kc := range ranked {
		keys[i] = kc.Key
	}
	return keys
}

// AccessFrequency returns how many of the key's recorded accesses fall
// within the trailing hour.
func (p *PatternAnalyzer) AccessFrequency(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	hist, ok := p.keyStats[key]
	if !ok {
		return 0
	}
	cutoff := time.Now().Add(-time.Hour)
	recent := 0
	for _, ts := range hist.timestamps {
		if ts.After(cutoff) {
			recent++
		}
	}
	return recent
}

// PredictNextAccess estimates when the key will next be accessed: the last
// observed timestamp plus the mean inter-arrival interval of the most
// recent accesses. It reports false with fewer than two observations.
func (p *PatternAnalyzer) PredictNextAccess(key string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hist, ok := p.keyStats[key]
	if !ok || len(hist.timestamps) < 2 {
		return time.Time{}, false
	}

	window := hist.timestamps
	if len(window) > predictionWindow {
		window = window[len(window)-predictionWindow:]
	}

	var sum time.Duration
	for i := 1; i < len(window); i++ {
		sum += window[i].Sub(window[i-1])
	}
	mean := sum / time.Duration(len(window)-1)
	return window[len(window)-1].Add(mean), true
}

// KeySequences reports, for keys in the recent event window, the key that
// usually follows them: a successor qualifies only when it accounts for
// more than half of at least three follow-on observations. This is the
// "accessed together" signal behind predictive preloading.
func (p *PatternAnalyzer) KeySequences() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	window := p.events
	if len(window) > sequenceWindow {
		window = window[len(window)-sequenceWindow:]
	}

	followers := make(map[string]map[string]int)
	totals := make(map[string]int)
	for i := 0; i+1 < len(window); i++ {
		cur, next := window[i].Key, window[i+1].Key
		if followers[cur] == nil {
			followers[cur] = make(map[string]int)
		}
		followers[cur][next]++
		totals[cur]++
	}

	sequences := make(map[string]string)
	for key, candidates := range followers {
		if totals[key] < 3 {
			continue
		}
		for next, count := range candidates {
			if count*2 > totals[key] {
				sequences[key] = next
				break
			}
		}
	}
	return sequences
}

// Report assembles the snapshot the optimizer analyzes.
func (p *PatternAnalyzer) Report() PatternReport {
	sequences := p.KeySequences()

	p.mu.Lock()
	cutoff := time.Now().Add(-time.Hour)
	recent := 0
	buckets := make(map[time.Time]struct{})
	for _, event := range p.events {
		if event.Timestamp.After(cutoff) {
			recent++
		}
		buckets[event.Timestamp.Truncate(time.Hour)] = struct{}{}
	}
	total := p.total
	p.mu.Unlock()

	ranked := p.rankedKeys()
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}

	return PatternReport{
		HotKeys:            ranked,
		TotalAccesses:      total,
		RecentHourAccesses: recent,
		ActiveHourBuckets:  len(buckets),
		Sequences:          sequences,
	}
}

// Reset drops all recorded history.
func (p *PatternAnalyzer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = p.events[:0]
	p.keyStats = make(map[string]*keyHistory)
	p.nextSeen = 0
	p.total = 0
}

func (p *PatternAnalyzer) rankedKeys() []KeyCount {
	p.mu.Lock()
	defer p.mu.Unlock()

	type rankedKey struct {
		KeyCount
		order int
	}
	ranked := make([]rankedKey, 0, len(p.keyStats))
	for key, hist := range p.keyStats {
		ranked = append(ranked, rankedKey{
			KeyCount: KeyCount{Key: key, Count: hist.count},
			order:    hist.seenOrder,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].order < ranked[j].order
	})

	out := make([]KeyCount, len(ranked))
	for i, r := range ranked {
		out[i] = r.KeyCount
	}
	return out
}
