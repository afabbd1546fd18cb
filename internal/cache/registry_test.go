package cache

import (
	"errors"
	"testing"
	"time"

	cacheerr "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

func newTestRegistry(t *testing.T, config RegistryConfig) *Registry {
	t.Helper()
	registry := NewRegistry(config, nil, testLogger())
	t.Cleanup(registry.Stop)
	return registry
}

func registryCacheConfig(name string, priority types.CachePriority) types.CacheConfiguration {
	config := memoryOnlyConfig(name)
	config.Priority = priority
	return config
}

func isCode(err error, code cacheerr.ErrorCode) bool {
	return errors.Is(err, &cacheerr.CacheError{Code: code})
}

func TestRegistry_RegisterAndRoute(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	if err := registry.Register(registryCacheConfig("users", types.PriorityMedium)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	accepted, err := registry.Put("users", "k", []byte("v"), 0)
	if err != nil || !accepted {
		t.Fatalf("Put: accepted=%v err=%v", accepted, err)
	}

	value, ok, err := registry.Get("users", "k")
	if err != nil || !ok || string(value) != "v" {
		t.Fatalf("Get: ok=%v value=%q err=%v", ok, value, err)
	}

	if _, ok, err := registry.Get("users", "missing"); err != nil || ok {
		t.Errorf("plain miss must not be an error: ok=%v err=%v", ok, err)
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	config := registryCacheConfig("dup", types.PriorityMedium)
	if err := registry.Register(config); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	err := registry.Register(config)
	if !isCode(err, cacheerr.ErrCodeDuplicateCache) {
		t.Fatalf("expected DUPLICATE_CACHE, got %v", err)
	}

	// The original manager is untouched.
	if accepted, err := registry.Put("dup", "k", []byte("v"), 0); err != nil || !accepted {
		t.Errorf("original cache broken after duplicate attempt: %v", err)
	}
}

func TestRegistry_UnknownCache(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	if _, _, err := registry.Get("ghost", "k"); !isCode(err, cacheerr.ErrCodeUnknownCache) {
		t.Errorf("Get: expected UNKNOWN_CACHE, got %v", err)
	}
	if _, err := registry.Put("ghost", "k", nil, 0); !isCode(err, cacheerr.ErrCodeUnknownCache) {
		t.Errorf("Put: expected UNKNOWN_CACHE, got %v", err)
	}
	if err := registry.Clear("ghost"); !isCode(err, cacheerr.ErrCodeUnknownCache) {
		t.Errorf("Clear: expected UNKNOWN_CACHE, got %v", err)
	}
	if _, err := registry.Statistics("ghost"); !isCode(err, cacheerr.ErrCodeUnknownCache) {
		t.Errorf("Statistics: expected UNKNOWN_CACHE, got %v", err)
	}
	if _, err := registry.AutoOptimize("ghost"); !isCode(err, cacheerr.ErrCodeUnknownCache) {
		t.Errorf("AutoOptimize: expected UNKNOWN_CACHE, got %v", err)
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	registry.Register(registryCacheConfig("temp", types.PriorityLow))
	if !registry.Unregister("temp") {
		t.Error("Unregister missed a registered cache")
	}
	if registry.Unregister("temp") {
		t.Error("second Unregister reported success")
	}
	if _, _, err := registry.Get("temp", "k"); !isCode(err, cacheerr.ErrCodeUnknownCache) {
		t.Error("unregistered cache still routable")
	}
}

func TestRegistry_StartStop(t *testing.T) {
	registry := NewRegistry(RegistryConfig{RemediationInterval: time.Hour}, nil, testLogger())

	if err := registry.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := registry.Start(); !isCode(err, cacheerr.ErrCodeAlreadyStarted) {
		t.Errorf("expected ALREADY_STARTED, got %v", err)
	}

	registry.Register(registryCacheConfig("owned", types.PriorityMedium))
	registry.Stop()
	registry.Stop() // idempotent

	if len(registry.Names()) != 0 {
		t.Error("Stop left managers registered")
	}
}

func TestRegistry_GlobalMetricsWeightedHitRate(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	registry.Register(registryCacheConfig("busy", types.PriorityMedium))
	registry.Register(registryCacheConfig("idle", types.PriorityMedium))

	// busy: 9 hits, 1 miss. idle: 1 miss.
	registry.Put("busy", "k", []byte("v"), 0)
	for i := 0; i < 9; i++ {
		registry.Get("busy", "k")
	}
	registry.Get("busy", "missing")
	registry.Get("idle", "missing")

	global := registry.GlobalMetrics()
	if global.CacheCount != 2 {
		t.Errorf("expected 2 caches, got %d", global.CacheCount)
	}
	if global.TotalRequests != 11 {
		t.Errorf("expected 11 requests, got %d", global.TotalRequests)
	}
	// 9 hits over 11 requests, not the mean of 0.9 and 0.0.
	want := 9.0 / 11.0
	if global.GlobalHitRate < want-0.001 || global.GlobalHitRate > want+0.001 {
		t.Errorf("expected weighted hit rate %.3f, got %.3f", want, global.GlobalHitRate)
	}
	if global.TotalMemory == 0 {
		t.Error("expected nonzero aggregate memory usage")
	}
}

func TestRegistry_ClearByPriority(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{})

	registry.Register(registryCacheConfig("scratch", types.PriorityDisposable))
	registry.Register(registryCacheConfig("core", types.PriorityCritical))

	registry.Put("scratch", "k", []byte("v"), 0)
	registry.Put("core", "k", []byte("v"), 0)

	registry.ClearByPriority(types.PriorityLow)

	if _, ok, _ := registry.Get("scratch", "k"); ok {
		t.Error("disposable cache survived ClearByPriority")
	}
	if _, ok, _ := registry.Get("core", "k"); !ok {
		t.Error("critical cache cleared by ClearByPriority")
	}
}

func TestRegistry_MemoryPressureClearsAscendingPriority(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{
		MaxTotalMemoryBytes: 100,
		PressureThreshold:   0.9,
	})

	for name, priority := range map[string]types.CachePriority{
		"disposable": types.PriorityDisposable,
		"low":        types.PriorityLow,
		"high":       types.PriorityHigh,
		"critical":   types.PriorityCritical,
	} {
		if err := registry.Register(registryCacheConfig(name, priority)); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
		registry.Put(name, "k", make([]byte, 40), 0)
	}

	// 160 bytes across four caches, well over the 90-byte limit.
	registry.runRemediation()

	for _, name := range []string{"disposable", "low"} {
		if _, ok, _ := registry.Get(name, "k"); ok {
			t.Errorf("expected %s cleared under memory pressure", name)
		}
	}
	for _, name := range []string{"high", "critical"} {
		if _, ok, _ := registry.Get(name, "k"); !ok {
			t.Errorf("%s must never be reclaimed automatically", name)
		}
	}
}

func TestRegistry_MemoryPressureStopsWhenUnderLimit(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{
		MaxTotalMemoryBytes: 100,
		PressureThreshold:   0.9,
	})

	registry.Register(registryCacheConfig("disposable", types.PriorityDisposable))
	registry.Register(registryCacheConfig("low", types.PriorityLow))

	registry.Put("disposable", "k", make([]byte, 80), 0)
	registry.Put("low", "k", make([]byte, 15), 0)

	// Clearing the disposable cache alone gets usage under the limit.
	registry.runRemediation()

	if _, ok, _ := registry.Get("disposable", "k"); ok {
		t.Error("expected disposable cache cleared")
	}
	if _, ok, _ := registry.Get("low", "k"); !ok {
		t.Error("low cache cleared although usage was already under the limit")
	}
}

func TestRegistry_DiskPressureClearsTemporaryCaches(t *testing.T) {
	registry := newTestRegistry(t, RegistryConfig{
		MaxTotalDiskBytes: 100,
		PressureThreshold: 0.9,
	})

	tempConfig := registryCacheConfig("scratch", types.PriorityHigh)
	tempConfig.Type = types.CacheTypeTemporary
	tempConfig.DiskDirectory = t.TempDir()
	tempConfig.MaxDiskBytes = 1 << 20

	dataConfig := registryCacheConfig("data", types.PriorityLow)
	dataConfig.DiskDirectory = t.TempDir()
	dataConfig.MaxDiskBytes = 1 << 20

	registry.Register(tempConfig)
	registry.Register(dataConfig)

	registry.Put("scratch", "k", make([]byte, 80), 0)
	registry.Put("data", "k", make([]byte, 80), 0)

	registry.runRemediation()

	// Temporary caches are cleared regardless of priority; typed data
	// caches are not part of disk remediation.
	if _, ok, _ := registry.Get("scratch", "k"); ok {
		t.Error("temporary cache survived disk pressure")
	}
	if _, ok, _ := registry.Get("data", "k"); !ok {
		t.Error("data cache cleared by disk pressure")
	}
}
