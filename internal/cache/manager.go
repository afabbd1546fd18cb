package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

// maxRecommendationHistory caps how many recommendations a manager keeps.
const maxRecommendationHistory = 15

// managerState tracks a manager's lifecycle.
type managerState int

const (
	stateActive managerState = iota
	stateMaintaining
	stateShutdown
)

// MetricsRecorder receives per-access and per-tick observations. The
// manager works without one; recording never affects cache behavior.
type MetricsRecorder interface {
	RecordAccess(cache string, hit bool, latency time.Duration)
	RecordCacheMetrics(metrics types.CacheMetrics)
}

// Manager owns one named cache: a multi-level coordinator, a pattern
// analyzer, an optimizer, and the periodic maintenance cycle that ties
// them together. Composite operations serialize behind the manager's own
// lock; no operation ever holds another manager's lock.
type Manager struct {
	mu     sync.Mutex
	state  managerState
	config types.CacheConfiguration

	coordinator *MultiLevelCache
	memory      *MemoryTier
	disk        *DiskTier
	analyzer    *PatternAnalyzer
	optimizer   *Optimizer

	recommendations []types.CacheRecommendation

	recorder MetricsRecorder
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Statistics is the external observability snapshot for one cache.
type Statistics struct {
	Config          types.CacheConfiguration    `json:"config"`
	Metrics         types.CacheMetrics          `json:"metrics"`
	HotKeys         []string                    `json:"hot_keys"`
	Recommendations []types.CacheRecommendation `json:"recommendations"`
	TierStats       map[string]types.CacheStats `json:"tier_stats"`
}

// AutoOptimizeReport describes what an auto-optimization pass did.
type AutoOptimizeReport struct {
	Applied       []types.CacheRecommendation `json:"applied"`
	Advisory      []types.CacheRecommendation `json:"advisory"`
	Skipped       []types.CacheRecommendation `json:"skipped"`
	PurgedEntries int                         `json:"purged_entries"`
	PreloadedKeys int                         `json:"preloaded_keys"`
}

// NewManager builds a manager for the given configuration and starts its
// maintenance cycle. A disk tier is configured only when the configuration
// carries both a positive disk budget and a directory.
func NewManager(config types.CacheConfiguration, recorder MetricsRecorder, logger *slog.Logger) (*Manager, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("cache configuration requires a name")
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("cache", config.Name)

	memory := NewMemoryTier(config.MaxEntries, config.MaxMemoryBytes)

	var disk *DiskTier
	var l2 types.Tier
	if config.MaxDiskBytes > 0 && config.DiskDirectory != "" {
		var err error
		disk, err = NewDiskTier(DiskTierConfig{
			Directory: config.DiskDirectory,
			MaxBytes:  config.MaxDiskBytes,
			Compress:  config.DiskCompress,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("cache %q: %w", config.Name, err)
		}
		l2 = disk
	}

	m := &Manager{
		config:      config,
		coordinator: NewMultiLevelCache(memory, l2, config.DefaultTTL),
		memory:      memory,
		disk:        disk,
		analyzer:    NewPatternAnalyzer(defaultEventCapacity),
		optimizer:   NewOptimizer(),
		recorder:    recorder,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}

	m.wg.Add(1)
	go m.maintenanceLoop()

	return m, nil
}

// Config returns the immutable configuration the cache was registered with.
func (m *Manager) Config() types.CacheConfiguration {
	return m.config
}

// Get looks the key up through the tier hierarchy and feeds the outcome to
// the pattern analyzer.
func (m *Manager) Get(key string) ([]byte, bool) {
	if m.currentState() == stateShutdown {
		return nil, false
	}

	start := time.Now()
	value, ok := m.coordinator.Get(key)
	latency := time.Since(start)

	m.analyzer.Record(key, ok, start)
	if m.recorder != nil {
		m.recorder.RecordAccess(m.config.Name, ok, latency)
	}
	return value, ok
}

// Put stores the value in every configured tier. A zero TTL selects the
// cache's default.
func (m *Manager) Put(key string, value []byte, ttl time.Duration) bool {
	if m.currentState() == stateShutdown {
		return false
	}
	return m.coordinator.Put(key, value, ttl)
}

// Delete removes the key from every tier.
func (m *Manager) Delete(key string) bool {
	if m.currentState() == stateShutdown {
		return false
	}
	return m.coordinator.Delete(key)
}

// Clear empties every tier.
func (m *Manager) Clear() {
	if m.currentState() == stateShutdown {
		return
	}
	m.coordinator.Clear()
}

// Metrics returns the cache's current derived metrics snapshot.
func (m *Manager) Metrics() types.CacheMetrics {
	return m.coordinator.Metrics(m.config.Name)
}

// Statistics returns the full observability snapshot: configuration,
// metrics, hot keys, and recommendation history.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	recs := make([]types.CacheRecommendation, len(m.recommendations))
	copy(recs, m.recommendations)
	m.mu.Unlock()

	return Statistics{
		Config:          m.config,
		Metrics:         m.Metrics(),
		HotKeys:         m.analyzer.HotKeys(10),
		Recommendations: recs,
		TierStats:       m.coordinator.TierStats(),
	}
}

// Recommendations returns a copy of the current recommendation history,
// newest first.
func (m *Manager) Recommendations() []types.CacheRecommendation {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := make([]types.CacheRecommendation, len(m.recommendations))
	copy(recs, m.recommendations)
	return recs
}

// AutoOptimize applies every stored cleanup or preload recommendation that
// is cheap (low cost) and worthwhile (impact above 0.5). Resize and
// strategy-change recommendations are structural, so they are reported as
// advisory and left for an operator to confirm.
func (m *Manager) AutoOptimize() AutoOptimizeReport {
	if m.currentState() == stateShutdown {
		return AutoOptimizeReport{}
	}

	report := AutoOptimizeReport{}
	for _, rec := range m.Recommendations() {
		switch rec.Kind {
		case types.RecommendResize, types.RecommendStrategyChange:
			m.logger.Info("advisory recommendation requires confirmation",
				"kind", rec.Kind, "description", rec.Description)
			report.Advisory = append(report.Advisory, rec)
		case types.RecommendCleanup:
			if rec.Cost == types.CostLow && rec.ImpactScore > 0.5 {
				report.PurgedEntries += m.applyCleanup()
				report.Applied = append(report.Applied, rec)
			} else {
				report.Skipped = append(report.Skipped, rec)
			}
		case types.RecommendPreload:
			if rec.Cost == types.CostLow && rec.ImpactScore > 0.5 {
				report.PreloadedKeys += m.applyPreload()
				report.Applied = append(report.Applied, rec)
			} else {
				report.Skipped = append(report.Skipped, rec)
			}
		}
	}
	return report
}

// Shutdown stops the maintenance cycle, clears and closes the tiers, and
// rejects all further operations. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.state == stateShutdown {
		m.mu.Unlock()
		return
	}
	m.state = stateShutdown
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()

	m.coordinator.Clear()
	if err := m.coordinator.Close(); err != nil {
		m.logger.Warn("tier close failed during shutdown", "error", err)
	}
	m.logger.Info("cache shut down")
}

func (m *Manager) currentState() managerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) maintenanceLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runMaintenance()
		}
	}
}

// runMaintenance is one Active→Maintaining→Active cycle: sweep expired
// entries, refresh metrics, and refresh the recommendation list. A failure
// inside a tick is logged and the tick skipped; the next tick proceeds.
func (m *Manager) runMaintenance() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("maintenance tick failed", "panic", r)
		}
		m.transition(stateMaintaining, stateActive)
	}()

	if !m.transition(stateActive, stateMaintaining) {
		return
	}

	purged := m.coordinator.PurgeExpired()
	if purged > 0 {
		m.logger.Debug("purged expired entries", "count", purged)
	}

	metrics := m.Metrics()
	if m.recorder != nil {
		m.recorder.RecordCacheMetrics(metrics)
	}

	recs := m.optimizer.Analyze(m.config.Name, metrics, m.analyzer.Report())
	if len(recs) == 0 {
		return
	}

	m.mu.Lock()
	// Newest first, capped to the most recent entries.
	m.recommendations = append(recs, m.recommendations...)
	if len(m.recommendations) > maxRecommendationHistory {
		m.recommendations = m.recommendations[:maxRecommendationHistory]
	}
	m.mu.Unlock()
}

// transition moves from one state to another and reports whether the
// transition happened. A manager that has shut down stays shut down.
func (m *Manager) transition(from, to managerState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	m.state = to
	return true
}

// applyCleanup purges expired entries everywhere and drops memory-resident
// entries with no access in the trailing hour. Disk copies survive, so a
// late access still hits L2.
func (m *Manager) applyCleanup() int {
	purged := m.coordinator.PurgeExpired()
	for _, key := range m.memory.Keys() {
		if m.analyzer.AccessFrequency(key) == 0 {
			if m.memory.Delete(key) {
				purged++
			}
		}
	}
	return purged
}

// applyPreload warms the memory tier with keys the analyzer expects to be
// needed: followers of observed key sequences and disk-resident hot keys.
func (m *Manager) applyPreload() int {
	if m.disk == nil {
		return 0
	}

	candidates := make([]string, 0, 16)
	for _, follower := range m.analyzer.KeySequences() {
		candidates = append(candidates, follower)
	}
	candidates = append(candidates, m.analyzer.HotKeys(10)...)

	loaded := 0
	seen := make(map[string]struct{}, len(candidates))
	for _, key := range candidates {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if m.memory.Contains(key) {
			continue
		}
		if value, ok := m.disk.Get(key); ok {
			if m.memory.Put(key, value, m.config.DefaultTTL) {
				loaded++
			}
		}
	}
	return loaded
}
