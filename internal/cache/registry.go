package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	cacheerr "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// GlobalMetrics aggregates every registered cache into one snapshot. The
// hit rate is request-weighted, not a plain average of per-cache rates.
type GlobalMetrics struct {
	TotalMemory   int64     `json:"total_memory"`
	TotalDisk     int64     `json:"total_disk"`
	GlobalHitRate float64   `json:"global_hit_rate"`
	TotalRequests uint64    `json:"total_requests"`
	CacheCount    int       `json:"cache_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// GlobalRecorder receives the registry's aggregated snapshot each
// remediation tick.
type GlobalRecorder interface {
	RecordGlobalMetrics(metrics GlobalMetrics)
}

// RegistryConfig bounds the process-wide cache budget and tunes the
// global remediation loop.
type RegistryConfig struct {
	MaxTotalMemoryBytes int64         `yaml:"max_total_memory_bytes"`
	MaxTotalDiskBytes   int64         `yaml:"max_total_disk_bytes"`
	RemediationInterval time.Duration `yaml:"remediation_interval"`
	// PressureThreshold is the utilization fraction beyond which global
	// remediation starts reclaiming caches.
	PressureThreshold float64 `yaml:"pressure_threshold"`
}

// Registry owns every named cache manager in the process. It routes
// operations by cache name, aggregates global metrics, and reclaims
// low-priority caches when the process-wide budget runs out.
//
// A Registry is constructed explicitly and passed to consumers; there is
// no package-level instance. Start begins the remediation loop and Stop
// shuts down every manager.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
	config   RegistryConfig

	recorder MetricsRecorder
	logger   *slog.Logger

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry creates a registry. recorder may be nil.
func NewRegistry(config RegistryConfig, recorder MetricsRecorder, logger *slog.Logger) *Registry {
	if config.RemediationInterval <= 0 {
		config.RemediationInterval = 30 * time.Second
	}
	if config.PressureThreshold <= 0 || config.PressureThreshold > 1 {
		config.PressureThreshold = 0.9
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		managers: make(map[string]*Manager),
		config:   config,
		recorder: recorder,
		logger:   logger.With("component", "cache-registry"),
	}
}

// Start launches the global remediation loop. Calling Start on a running
// registry is an error.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return cacheerr.NewError(cacheerr.ErrCodeAlreadyStarted, "registry already started").
			WithComponent("registry")
	}
	r.started = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.remediationLoop(r.stopCh)
	return nil
}

// Stop halts the remediation loop and shuts down every manager. Safe to
// call more than once.
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.started {
		r.started = false
		close(r.stopCh)
	}
	managers := r.snapshotLocked()
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	r.wg.Wait()
	for _, m := range managers {
		m.Shutdown()
	}
}

// Register creates and owns a manager for the configuration. Registering
// a name that already exists fails without mutating the registry.
func (r *Registry) Register(config types.CacheConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.managers[config.Name]; exists {
		return cacheerr.NewError(cacheerr.ErrCodeDuplicateCache, "cache already registered").
			WithComponent("registry").WithContext("cache", config.Name)
	}

	manager, err := NewManager(config, r.recorder, r.logger)
	if err != nil {
		return cacheerr.NewError(cacheerr.ErrCodeInvalidConfig, "cache construction failed").
			WithComponent("registry").WithContext("cache", config.Name).WithCause(err)
	}
	r.managers[config.Name] = manager
	r.logger.Info("cache registered",
		"cache", config.Name, "type", config.Type, "priority", config.Priority.String())
	return nil
}

// Unregister shuts down and removes the named manager. It is idempotent
// and reports whether a manager was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	manager, ok := r.managers[name]
	if ok {
		delete(r.managers, name)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	manager.Shutdown()
	r.logger.Info("cache unregistered", "cache", name)
	return true
}

// Get routes a lookup to the named cache. The error is non-nil only for
// an unknown cache name; a plain miss is (nil, false, nil).
func (r *Registry) Get(name, key string) ([]byte, bool, error) {
	manager, err := r.manager(name)
	if err != nil {
		return nil, false, err
	}
	value, ok := manager.Get(key)
	return value, ok, nil
}

// Put routes a write to the named cache. The boolean is the cache's
// acceptance of the write; the error flags an unknown cache name.
func (r *Registry) Put(name, key string, value []byte, ttl time.Duration) (bool, error) {
	manager, err := r.manager(name)
	if err != nil {
		return false, err
	}
	return manager.Put(key, value, ttl), nil
}

// Delete routes a removal to the named cache.
func (r *Registry) Delete(name, key string) (bool, error) {
	manager, err := r.manager(name)
	if err != nil {
		return false, err
	}
	return manager.Delete(key), nil
}

// Clear empties the named cache.
func (r *Registry) Clear(name string) error {
	manager, err := r.manager(name)
	if err != nil {
		return err
	}
	manager.Clear()
	return nil
}

// ClearByPriority empties every cache whose priority is at or below the
// threshold, lowest priority first.
func (r *Registry) ClearByPriority(threshold types.CachePriority) {
	for _, manager := range r.managersByPriority() {
		if manager.Config().Priority <= threshold {
			r.logger.Info("clearing cache by priority",
				"cache", manager.Config().Name, "priority", manager.Config().Priority.String())
			manager.Clear()
		}
	}
}

// Statistics returns the named cache's observability snapshot.
func (r *Registry) Statistics(name string) (Statistics, error) {
	manager, err := r.manager(name)
	if err != nil {
		return Statistics{}, err
	}
	return manager.Statistics(), nil
}

// Recommendations returns the named cache's recommendation history.
func (r *Registry) Recommendations(name string) ([]types.CacheRecommendation, error) {
	manager, err := r.manager(name)
	if err != nil {
		return nil, err
	}
	return manager.Recommendations(), nil
}

// AutoOptimize runs an auto-optimization pass on the named cache.
func (r *Registry) AutoOptimize(name string) (AutoOptimizeReport, error) {
	manager, err := r.manager(name)
	if err != nil {
		return AutoOptimizeReport{}, err
	}
	return manager.AutoOptimize(), nil
}

// Names returns the registered cache names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GlobalMetrics aggregates every manager's metrics into one snapshot.
func (r *Registry) GlobalMetrics() GlobalMetrics {
	snapshot := r.snapshot()

	global := GlobalMetrics{
		CacheCount: len(snapshot),
		Timestamp:  time.Now(),
	}
	var weightedHits float64
	for _, manager := range snapshot {
		metrics := manager.Metrics()
		global.TotalMemory += metrics.MemoryUsage
		global.TotalDisk += metrics.DiskUsage
		global.TotalRequests += metrics.TotalRequests
		weightedHits += metrics.HitRate * float64(metrics.TotalRequests)
	}
	if global.TotalRequests > 0 {
		global.GlobalHitRate = weightedHits / float64(global.TotalRequests)
	}
	return global
}

func (r *Registry) manager(name string) (*Manager, error) {
	r.mu.RLock()
	manager, ok := r.managers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, cacheerr.NewError(cacheerr.ErrCodeUnknownCache, "no cache with that name").
			WithComponent("registry").WithContext("cache", name)
	}
	return manager, nil
}

func (r *Registry) snapshot() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []*Manager {
	managers := make([]*Manager, 0, len(r.managers))
	for _, manager := range r.managers {
		managers = append(managers, manager)
	}
	return managers
}

// managersByPriority returns managers ordered lowest priority first, with
// name order breaking ties so remediation is deterministic.
func (r *Registry) managersByPriority() []*Manager {
	managers := r.snapshot()
	sort.Slice(managers, func(i, j int) bool {
		pi, pj := managers[i].Config().Priority, managers[j].Config().Priority
		if pi != pj {
			return pi < pj
		}
		return managers[i].Config().Name < managers[j].Config().Name
	})
	return managers
}

func (r *Registry) remediationLoop(stopCh chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.RemediationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			r.runRemediation()
		}
	}
}

// runRemediation is one global maintenance cycle: publish aggregate
// metrics, then reclaim caches if the process-wide budget is under
// pressure. Failures are logged and the cycle skipped.
func (r *Registry) runRemediation() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("remediation tick failed", "panic", rec)
		}
	}()

	global := r.GlobalMetrics()
	if recorder, ok := r.recorder.(GlobalRecorder); ok && recorder != nil {
		recorder.RecordGlobalMetrics(global)
	}

	r.relieveMemoryPressure(global)
	r.relieveDiskPressure(global)
}

// relieveMemoryPressure clears caches in ascending priority order when
// global memory exceeds the pressure threshold. CRITICAL and HIGH caches
// are never reclaimed automatically.
func (r *Registry) relieveMemoryPressure(global GlobalMetrics) {
	ceiling := r.config.MaxTotalMemoryBytes
	if ceiling <= 0 {
		return
	}
	limit := int64(r.config.PressureThreshold * float64(ceiling))
	if global.TotalMemory <= limit {
		return
	}

	r.logger.Warn("global memory pressure",
		"usage", global.TotalMemory, "ceiling", ceiling)

	usage := global.TotalMemory
	for _, manager := range r.managersByPriority() {
		if usage <= limit {
			return
		}
		config := manager.Config()
		if config.Priority >= types.PriorityHigh {
			return
		}
		freed := manager.Metrics().MemoryUsage
		r.logger.Info("clearing cache under memory pressure",
			"cache", config.Name, "priority", config.Priority.String(), "freed", freed)
		manager.Clear()
		usage -= freed
	}
}

// relieveDiskPressure clears every TEMPORARY cache, regardless of
// priority, when global disk usage exceeds the pressure threshold.
func (r *Registry) relieveDiskPressure(global GlobalMetrics) {
	ceiling := r.config.MaxTotalDiskBytes
	if ceiling <= 0 {
		return
	}
	limit := int64(r.config.PressureThreshold * float64(ceiling))
	if global.TotalDisk <= limit {
		return
	}

	r.logger.Warn("global disk pressure",
		"usage", global.TotalDisk, "ceiling", ceiling)

	for _, manager := range r.snapshot() {
		if manager.Config().Type == types.CacheTypeTemporary {
			r.logger.Info("clearing temporary cache under disk pressure",
				"cache", manager.Config().Name)
			manager.Clear()
		}
	}
}
