package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiercache/tiercache/internal/cache"
	"github.com/tiercache/tiercache/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// Collector exports cache observations as Prometheus metrics and serves
// them over HTTP. It satisfies both the per-cache recorder interface and
// the registry's global recorder interface, so one Collector instance is
// wired through the whole engine.
//
// A disabled Collector is a valid no-op recorder.
type Collector struct {
	mu     sync.RWMutex
	config *Config

	registry *prometheus.Registry

	accessCounter *prometheus.CounterVec
	accessLatency *prometheus.HistogramVec

	hitRateGauge    *prometheus.GaugeVec
	efficiencyGauge *prometheus.GaugeVec
	evictionGauge   *prometheus.GaugeVec
	memoryGauge     *prometheus.GaugeVec
	diskGauge       *prometheus.GaugeVec

	globalMemory  prometheus.Gauge
	globalDisk    prometheus.Gauge
	globalHitRate prometheus.Gauge
	cacheCount    prometheus.Gauge

	heapAlloc  prometheus.Gauge
	heapSys    prometheus.Gauge
	gcCycles   prometheus.Gauge
	goroutines prometheus.Gauge

	// Last metrics snapshot per cache, for the debug endpoint.
	snapshots map[string]types.CacheMetrics
	started   time.Time

	server *http.Server
}

// NewCollector creates a collector. A nil config selects the defaults; a
// disabled config returns a collector whose recording methods do nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      8080,
			Path:      "/metrics",
			Namespace: "tiercache",
			Labels:    make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:    config,
		registry:  prometheus.NewRegistry(),
		snapshots: make(map[string]types.CacheMetrics),
		started:   time.Now(),
	}

	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return c, nil
}

// Start serves the metrics and health endpoints in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/caches", c.debugCachesHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts the HTTP server down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordAccess records one cache lookup and its latency.
func (c *Collector) RecordAccess(cacheName string, hit bool, latency time.Duration) {
	if !c.config.Enabled {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	c.accessCounter.With(prometheus.Labels{"cache": cacheName, "result": result}).Inc()
	c.accessLatency.With(prometheus.Labels{"cache": cacheName}).Observe(latency.Seconds())
}

// RecordCacheMetrics publishes one cache's derived metrics snapshot.
func (c *Collector) RecordCacheMetrics(metrics types.CacheMetrics) {
	if !c.config.Enabled {
		return
	}

	labels := prometheus.Labels{"cache": metrics.Name}
	c.hitRateGauge.With(labels).Set(metrics.HitRate)
	c.efficiencyGauge.With(labels).Set(metrics.Efficiency)
	c.evictionGauge.With(labels).Set(metrics.EvictionRate)
	c.memoryGauge.With(labels).Set(float64(metrics.MemoryUsage))
	c.diskGauge.With(labels).Set(float64(metrics.DiskUsage))

	c.mu.Lock()
	c.snapshots[metrics.Name] = metrics
	c.mu.Unlock()
}

// RecordGlobalMetrics publishes the registry's aggregated snapshot.
func (c *Collector) RecordGlobalMetrics(global cache.GlobalMetrics) {
	if !c.config.Enabled {
		return
	}

	c.globalMemory.Set(float64(global.TotalMemory))
	c.globalDisk.Set(float64(global.TotalDisk))
	c.globalHitRate.Set(global.GlobalHitRate)
	c.cacheCount.Set(float64(global.CacheCount))
}

// RecordSystemSnapshot publishes process-level runtime readings. Arguments
// are primitives so the memory monitor needs no import of this package's
// types.
func (c *Collector) RecordSystemSnapshot(heapAlloc, heapSys uint64, gcCycles uint32, goroutines int) {
	if !c.config.Enabled {
		return
	}

	c.heapAlloc.Set(float64(heapAlloc))
	c.heapSys.Set(float64(heapSys))
	c.gcCycles.Set(float64(gcCycles))
	c.goroutines.Set(float64(goroutines))
}

// Snapshots returns the most recent metrics snapshot per cache.
func (c *Collector) Snapshots() map[string]types.CacheMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]types.CacheMetrics, len(c.snapshots))
	for name, metrics := range c.snapshots {
		out[name] = metrics
	}
	return out
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.accessCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "requests_total",
			Help:      "Total number of cache lookups",
		},
		[]string{"cache", "result"},
	)

	c.accessLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "access_duration_seconds",
			Help:      "Cache lookup latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12), // 10µs to ~160s
		},
		[]string{"cache"},
	)

	c.hitRateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "hit_rate",
			Help:      "Fraction of lookups served from cache",
		},
		[]string{"cache"},
	)

	c.efficiencyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "efficiency",
			Help:      "Combined hit-rate and access-speed score",
		},
		[]string{"cache"},
	)

	c.evictionGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "eviction_rate",
			Help:      "Evictions per request",
		},
		[]string{"cache"},
	)

	c.memoryGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "memory_bytes",
			Help:      "Memory tier usage in bytes",
		},
		[]string{"cache"},
	)

	c.diskGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "disk_bytes",
			Help:      "Disk tier usage in bytes",
		},
		[]string{"cache"},
	)

	c.globalMemory = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "global_memory_bytes",
		Help:      "Memory usage summed across all caches",
	})
	c.globalDisk = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "global_disk_bytes",
		Help:      "Disk usage summed across all caches",
	})
	c.globalHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "global_hit_rate",
		Help:      "Request-weighted hit rate across all caches",
	})
	c.cacheCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "registered_caches",
		Help:      "Number of registered caches",
	})

	c.heapAlloc = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "heap_alloc_bytes",
		Help:      "Bytes of allocated heap objects",
	})
	c.heapSys = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "heap_sys_bytes",
		Help:      "Bytes of heap obtained from the OS",
	})
	c.gcCycles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "gc_cycles_total",
		Help:      "Completed GC cycles",
	})
	c.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "goroutines",
		Help:      "Number of live goroutines",
	})
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.accessCounter,
		c.accessLatency,
		c.hitRateGauge,
		c.efficiencyGauge,
		c.evictionGauge,
		c.memoryGauge,
		c.diskGauge,
		c.globalMemory,
		c.globalDisk,
		c.globalHitRate,
		c.cacheCount,
		c.heapAlloc,
		c.heapSys,
		c.gcCycles,
		c.goroutines,
	}

	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"tiercache-metrics"}`))
}

func (c *Collector) debugCachesHandler(w http.ResponseWriter, r *http.Request) {
	snapshots := c.Snapshots()

	names := make([]string, 0, len(snapshots))
	for name := range snapshots {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("TierCache Summary\n")
	writef("=================\n\n")
	writef("Uptime: %v\n\n", time.Since(c.started).Round(time.Second))

	if len(names) == 0 {
		writef("No cache metrics recorded.\n")
		return
	}

	writef("%-20s %10s %10s %12s %12s %12s\n",
		"Cache", "Hit Rate", "Eff.", "Avg Access", "Memory", "Disk")
	writef("%-20s %10s %10s %12s %12s %12s\n",
		"-----", "--------", "----", "----------", "------", "----")

	for _, name := range names {
		m := snapshots[name]
		writef("%-20s %10.2f %10.2f %12v %12d %12d\n",
			name, m.HitRate, m.Efficiency, m.AvgAccessTime, m.MemoryUsage, m.DiskUsage)
	}
}
