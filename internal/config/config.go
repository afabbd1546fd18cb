package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"

	cacheerr "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// Configuration is the complete engine configuration: global service
// settings, the process-wide budget, and the declared caches.
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Registry RegistryLimits `yaml:"registry"`
	Caches   []CacheDecl    `yaml:"caches"`
}

// GlobalConfig holds service-level settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// RegistryLimits bounds the process-wide cache budget. Sizes are
// human-readable strings ("512MB", "10GB"); empty means unbounded.
type RegistryLimits struct {
	MaxTotalMemory      string        `yaml:"max_total_memory"`
	MaxTotalDisk        string        `yaml:"max_total_disk"`
	RemediationInterval time.Duration `yaml:"remediation_interval"`
	PressureThreshold   float64       `yaml:"pressure_threshold"`
}

// CacheDecl declares one named cache. Size fields are human-readable
// strings; Priority, Type, and Strategy are the lowercase names of the
// corresponding enumerations.
type CacheDecl struct {
	Name            string        `yaml:"name"`
	Type            string        `yaml:"type"`
	Strategy        string        `yaml:"strategy"`
	Priority        string        `yaml:"priority"`
	MaxEntries      int           `yaml:"max_entries"`
	MaxMemory       string        `yaml:"max_memory"`
	MaxDisk         string        `yaml:"max_disk"`
	DiskDirectory   string        `yaml:"disk_directory"`
	DiskCompress    bool          `yaml:"disk_compress"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// NewDefault returns a configuration with sensible defaults: one
// medium-priority data cache and a conservative global budget.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			MetricsPort: 8080,
			HealthPort:  8081,
		},
		Registry: RegistryLimits{
			MaxTotalMemory:      "512MB",
			MaxTotalDisk:        "10GB",
			RemediationInterval: 30 * time.Second,
			PressureThreshold:   0.9,
		},
		Caches: []CacheDecl{
			{
				Name:            "default",
				Type:            "data",
				Strategy:        "lru",
				Priority:        "medium",
				MaxEntries:      10000,
				MaxMemory:       "64MB",
				DefaultTTL:      5 * time.Minute,
				CleanupInterval: time.Minute,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying the
// receiver's current values.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return cacheerr.NewError(cacheerr.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").WithContext("file", filename).WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return cacheerr.NewError(cacheerr.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").WithContext("file", filename).WithCause(err)
	}

	return nil
}

// LoadFromEnv overlays configuration from TIERCACHE_* environment
// variables. Unparseable values are ignored.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("TIERCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("TIERCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("TIERCACHE_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.HealthPort = port
		}
	}

	if val := os.Getenv("TIERCACHE_MAX_TOTAL_MEMORY"); val != "" {
		c.Registry.MaxTotalMemory = val
	}
	if val := os.Getenv("TIERCACHE_MAX_TOTAL_DISK"); val != "" {
		c.Registry.MaxTotalDisk = val
	}
	if val := os.Getenv("TIERCACHE_REMEDIATION_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			c.Registry.RemediationInterval = interval
		}
	}

	return nil
}

// SaveToFile writes the configuration as YAML.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internal consistency. The
// returned error names the first offending field.
func (c *Configuration) Validate() error {
	if !validLogLevel(c.Global.LogLevel) {
		return invalid(fmt.Sprintf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel))
	}
	if c.Global.MetricsPort == c.Global.HealthPort {
		return invalid("metrics_port and health_port cannot be the same")
	}
	if c.Registry.PressureThreshold < 0 || c.Registry.PressureThreshold > 1 {
		return invalid("pressure_threshold must be in [0, 1]")
	}
	if _, err := parseSize(c.Registry.MaxTotalMemory); err != nil {
		return invalid(fmt.Sprintf("max_total_memory: %v", err))
	}
	if _, err := parseSize(c.Registry.MaxTotalDisk); err != nil {
		return invalid(fmt.Sprintf("max_total_disk: %v", err))
	}

	seen := make(map[string]struct{}, len(c.Caches))
	for _, decl := range c.Caches {
		if decl.Name == "" {
			return invalid("cache declarations require a name")
		}
		if _, dup := seen[decl.Name]; dup {
			return invalid(fmt.Sprintf("duplicate cache name: %s", decl.Name))
		}
		seen[decl.Name] = struct{}{}

		if _, err := decl.Build(); err != nil {
			return err
		}
	}
	return nil
}

// Build converts the declaration into the runtime cache configuration,
// parsing sizes and enumeration names.
func (d CacheDecl) Build() (types.CacheConfiguration, error) {
	cacheType, err := parseCacheType(d.Type)
	if err != nil {
		return types.CacheConfiguration{}, invalid(fmt.Sprintf("cache %s: %v", d.Name, err))
	}
	strategy, err := parseStrategy(d.Strategy)
	if err != nil {
		return types.CacheConfiguration{}, invalid(fmt.Sprintf("cache %s: %v", d.Name, err))
	}
	priority, err := parsePriority(d.Priority)
	if err != nil {
		return types.CacheConfiguration{}, invalid(fmt.Sprintf("cache %s: %v", d.Name, err))
	}
	maxMemory, err := parseSize(d.MaxMemory)
	if err != nil {
		return types.CacheConfiguration{}, invalid(fmt.Sprintf("cache %s: max_memory: %v", d.Name, err))
	}
	maxDisk, err := parseSize(d.MaxDisk)
	if err != nil {
		return types.CacheConfiguration{}, invalid(fmt.Sprintf("cache %s: max_disk: %v", d.Name, err))
	}
	if maxDisk > 0 && d.DiskDirectory == "" {
		return types.CacheConfiguration{}, invalid(fmt.Sprintf("cache %s: max_disk set without disk_directory", d.Name))
	}

	return types.CacheConfiguration{
		Name:            d.Name,
		Type:            cacheType,
		Strategy:        strategy,
		Priority:        priority,
		MaxEntries:      d.MaxEntries,
		MaxMemoryBytes:  maxMemory,
		MaxDiskBytes:    maxDisk,
		DiskDirectory:   d.DiskDirectory,
		DiskCompress:    d.DiskCompress,
		DefaultTTL:      d.DefaultTTL,
		CleanupInterval: d.CleanupInterval,
	}, nil
}

// MemoryCeilingBytes returns the parsed global memory budget, zero when
// unset.
func (c *Configuration) MemoryCeilingBytes() int64 {
	size, _ := parseSize(c.Registry.MaxTotalMemory)
	return size
}

// DiskCeilingBytes returns the parsed global disk budget, zero when unset.
func (c *Configuration) DiskCeilingBytes() int64 {
	size, _ := parseSize(c.Registry.MaxTotalDisk)
	return size
}

// parseSize parses a human-readable size ("64MB", "1.5GiB"). An empty
// string is zero, meaning unbounded.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(size), nil
}

func parseCacheType(s string) (types.CacheType, error) {
	switch types.CacheType(strings.ToLower(s)) {
	case types.CacheTypeData, types.CacheTypeComputation, types.CacheTypeUI,
		types.CacheTypePerformance, types.CacheTypeTemporary:
		return types.CacheType(strings.ToLower(s)), nil
	case "":
		return types.CacheTypeData, nil
	}
	return "", fmt.Errorf("unknown cache type %q", s)
}

func parseStrategy(s string) (types.EvictionStrategy, error) {
	switch types.EvictionStrategy(strings.ToLower(s)) {
	case types.StrategyLRU, types.StrategyLFU, types.StrategyFIFO,
		types.StrategyAdaptive, types.StrategyPredictive:
		return types.EvictionStrategy(strings.ToLower(s)), nil
	case "":
		return types.StrategyLRU, nil
	}
	return "", fmt.Errorf("unknown eviction strategy %q", s)
}

func parsePriority(s string) (types.CachePriority, error) {
	switch strings.ToLower(s) {
	case "critical":
		return types.PriorityCritical, nil
	case "high":
		return types.PriorityHigh, nil
	case "medium", "":
		return types.PriorityMedium, nil
	case "low":
		return types.PriorityLow, nil
	case "disposable":
		return types.PriorityDisposable, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func validLogLevel(level string) bool {
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return true
	}
	return false
}

func invalid(msg string) error {
	return cacheerr.NewError(cacheerr.ErrCodeInvalidConfig, msg).WithComponent("config")
}
