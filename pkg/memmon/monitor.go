// Package memmon provides process memory monitoring for the cache engine.
package memmon

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// MonitorConfig configures memory monitoring behavior.
type MonitorConfig struct {
	// SampleInterval is how often to collect memory stats.
	SampleInterval time.Duration

	// AlertThreshold is the heap growth percentage over the baseline that
	// triggers a warning log.
	AlertThreshold float64

	// MaxSamples is the number of samples to keep in history.
	MaxSamples int

	Logger *slog.Logger
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval: 30 * time.Second,
		AlertThreshold: 20.0,
		MaxSamples:     100,
	}
}

// MemorySample is one point-in-time runtime reading.
type MemorySample struct {
	Timestamp    time.Time
	HeapAlloc    uint64
	HeapSys      uint64
	TotalAlloc   uint64
	NumGC        uint32
	NumGoroutine int
}

// SystemRecorder receives each sample; the metrics collector satisfies it.
type SystemRecorder interface {
	RecordSystemSnapshot(heapAlloc, heapSys uint64, gcCycles uint32, goroutines int)
}

// MemoryMonitor samples runtime memory statistics on an interval, keeps a
// bounded history, and warns when the heap grows well past its baseline.
type MemoryMonitor struct {
	config   MonitorConfig
	logger   *slog.Logger
	recorder SystemRecorder

	mu          sync.RWMutex
	samples     []MemorySample
	baseline    MemorySample
	baselineSet bool

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMemoryMonitor creates a monitor. recorder may be nil.
func NewMemoryMonitor(config MonitorConfig, recorder SystemRecorder) *MemoryMonitor {
	if config.SampleInterval <= 0 {
		config.SampleInterval = 30 * time.Second
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = 100
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &MemoryMonitor{
		config:   config,
		logger:   config.Logger.With("component", "memmon"),
		recorder: recorder,
	}
}

// Start begins sampling. Starting a running monitor is a no-op.
func (m *MemoryMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})

	m.baseline = takeSample()
	m.baselineSet = true

	m.wg.Add(1)
	go m.sampleLoop(m.stopCh)
}

// Stop halts sampling. Safe to call more than once.
func (m *MemoryMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// Current returns a fresh sample without recording it.
func (m *MemoryMonitor) Current() MemorySample {
	return takeSample()
}

// History returns the recorded samples, oldest first.
func (m *MemoryMonitor) History() []MemorySample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MemorySample, len(m.samples))
	copy(out, m.samples)
	return out
}

func (m *MemoryMonitor) sampleLoop(stopCh chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *MemoryMonitor) collect() {
	sample := takeSample()

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	if len(m.samples) > m.config.MaxSamples {
		m.samples = m.samples[1:]
	}
	baseline, baselineSet := m.baseline, m.baselineSet
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordSystemSnapshot(sample.HeapAlloc, sample.HeapSys, sample.NumGC, sample.NumGoroutine)
	}

	if baselineSet && baseline.HeapAlloc > 0 {
		growth := 100 * (float64(sample.HeapAlloc) - float64(baseline.HeapAlloc)) / float64(baseline.HeapAlloc)
		if growth > m.config.AlertThreshold {
			m.logger.Warn("heap growth above threshold",
				"growth_pct", growth,
				"baseline", baseline.HeapAlloc,
				"current", sample.HeapAlloc)
		}
	}
}

func takeSample() MemorySample {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return MemorySample{
		Timestamp:    time.Now(),
		HeapAlloc:    stats.HeapAlloc,
		HeapSys:      stats.HeapSys,
		TotalAlloc:   stats.TotalAlloc,
		NumGC:        stats.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
	}
}
