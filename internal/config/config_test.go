package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiercache/tiercache/pkg/types"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "INFO", cfg.Global.LogLevel)
	assert.NotEqual(t, cfg.Global.MetricsPort, cfg.Global.HealthPort)
	assert.Len(t, cfg.Caches, 1)
	assert.Equal(t, int64(512*1000*1000), cfg.MemoryCeilingBytes())
}

func TestLoadFromFile(t *testing.T) {
	yaml := `
global:
  log_level: DEBUG
  metrics_port: 9090
  health_port: 9091
registry:
  max_total_memory: 1GB
  remediation_interval: 10s
  pressure_threshold: 0.8
caches:
  - name: sessions
    type: data
    strategy: lru
    priority: high
    max_entries: 500
    max_memory: 32MB
    default_ttl: 10m
  - name: thumbnails
    type: temporary
    priority: disposable
    max_memory: 16MB
    max_disk: 256MB
    disk_directory: /tmp/thumbs
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.Equal(t, 9090, cfg.Global.MetricsPort)
	assert.Equal(t, 10*time.Second, cfg.Registry.RemediationInterval)
	assert.Equal(t, int64(1000*1000*1000), cfg.MemoryCeilingBytes())
	require.Len(t, cfg.Caches, 2)

	sessions, err := cfg.Caches[0].Build()
	require.NoError(t, err)
	assert.Equal(t, types.PriorityHigh, sessions.Priority)
	assert.Equal(t, int64(32*1000*1000), sessions.MaxMemoryBytes)
	assert.Equal(t, 10*time.Minute, sessions.DefaultTTL)

	thumbs, err := cfg.Caches[1].Build()
	require.NoError(t, err)
	assert.Equal(t, types.CacheTypeTemporary, thumbs.Type)
	assert.Equal(t, types.PriorityDisposable, thumbs.Priority)
	assert.Equal(t, "/tmp/thumbs", thumbs.DiskDirectory)
}

func TestLoadFromFile_Missing(t *testing.T) {
	cfg := NewDefault()
	assert.Error(t, cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestLoadFromFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("caches: {not a list"), 0o600))

	cfg := NewDefault()
	assert.Error(t, cfg.LoadFromFile(path))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TIERCACHE_LOG_LEVEL", "warn")
	t.Setenv("TIERCACHE_METRICS_PORT", "7070")
	t.Setenv("TIERCACHE_MAX_TOTAL_MEMORY", "2GB")
	t.Setenv("TIERCACHE_REMEDIATION_INTERVAL", "45s")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "WARN", cfg.Global.LogLevel)
	assert.Equal(t, 7070, cfg.Global.MetricsPort)
	assert.Equal(t, "2GB", cfg.Registry.MaxTotalMemory)
	assert.Equal(t, 45*time.Second, cfg.Registry.RemediationInterval)
}

func TestSaveToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	original := NewDefault()
	original.Global.LogLevel = "ERROR"
	require.NoError(t, original.SaveToFile(path))

	loaded := &Configuration{}
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "ERROR", loaded.Global.LogLevel)
	assert.Equal(t, original.Registry.MaxTotalMemory, loaded.Registry.MaxTotalMemory)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
		valid  bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Configuration) {},
			valid:  true,
		},
		{
			name:   "bad log level",
			mutate: func(c *Configuration) { c.Global.LogLevel = "VERBOSE" },
			valid:  false,
		},
		{
			name: "port collision",
			mutate: func(c *Configuration) {
				c.Global.HealthPort = c.Global.MetricsPort
			},
			valid: false,
		},
		{
			name:   "threshold out of range",
			mutate: func(c *Configuration) { c.Registry.PressureThreshold = 1.5 },
			valid:  false,
		},
		{
			name:   "unparseable global size",
			mutate: func(c *Configuration) { c.Registry.MaxTotalMemory = "lots" },
			valid:  false,
		},
		{
			name:   "nameless cache",
			mutate: func(c *Configuration) { c.Caches[0].Name = "" },
			valid:  false,
		},
		{
			name: "duplicate cache names",
			mutate: func(c *Configuration) {
				c.Caches = append(c.Caches, c.Caches[0])
			},
			valid: false,
		},
		{
			name:   "unknown priority",
			mutate: func(c *Configuration) { c.Caches[0].Priority = "urgent" },
			valid:  false,
		},
		{
			name:   "unknown type",
			mutate: func(c *Configuration) { c.Caches[0].Type = "quantum" },
			valid:  false,
		},
		{
			name: "disk size without directory",
			mutate: func(c *Configuration) {
				c.Caches[0].MaxDisk = "1GB"
				c.Caches[0].DiskDirectory = ""
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBuildDefaults(t *testing.T) {
	// Empty enumeration strings fall back to safe defaults.
	decl := CacheDecl{Name: "bare"}
	built, err := decl.Build()
	require.NoError(t, err)

	assert.Equal(t, types.CacheTypeData, built.Type)
	assert.Equal(t, types.StrategyLRU, built.Strategy)
	assert.Equal(t, types.PriorityMedium, built.Priority)
	assert.Zero(t, built.MaxMemoryBytes)
}
