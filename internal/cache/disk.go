package cache

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

const indexFileName = "cache-index.json"

// DiskTier is a persistent key→blob store. Each value lives in its own
// file named by a hash of the key; a JSON metadata index persists entry
// lifecycle data across restarts. All I/O failures degrade to a miss or a
// false return, never to an error the caller must handle.
type DiskTier struct {
	mu          sync.Mutex
	directory   string
	maxBytes    int64
	compress    bool
	currentSize int64
	index       map[string]*diskEntry
	dirty       bool

	stats  types.CacheStats
	logger *slog.Logger

	syncInterval  time.Duration
	sweepInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        bool
}

// diskEntry is one row of the persistent metadata index. Size is the
// on-disk footprint, which differs from the value length when the blob
// is compressed.
type diskEntry struct {
	Key          string        `json:"key"`
	FilePath     string        `json:"file_path"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	AccessCount  int64         `json:"access_count"`
	TTL          time.Duration `json:"ttl"`
	Size         int64         `json:"size"`
	Compressed   bool          `json:"compressed,omitempty"`
}

func (d *diskEntry) expired(now time.Time) bool {
	if d.TTL == 0 {
		return false
	}
	return now.Sub(d.CreatedAt) > d.TTL
}

// DiskTierConfig configures a disk tier. Compress gzips blob files;
// entries written without compression stay readable after the setting
// changes because each index row remembers its own encoding.
type DiskTierConfig struct {
	Directory     string        `yaml:"directory"`
	MaxBytes      int64         `yaml:"max_bytes"`
	Compress      bool          `yaml:"compress"`
	SyncInterval  time.Duration `yaml:"sync_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NewDiskTier creates a disk tier rooted at config.Directory, loading any
// index left by a previous process. Rows whose blob file has gone missing
// are dropped during load.
func NewDiskTier(config DiskTierConfig, logger *slog.Logger) (*DiskTier, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("disk tier requires a directory")
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Directory, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	d := &DiskTier{
		directory:     config.Directory,
		maxBytes:      config.MaxBytes,
		compress:      config.Compress,
		index:         make(map[string]*diskEntry),
		logger:        logger.With("component", "disk-tier"),
		syncInterval:  config.SyncInterval,
		sweepInterval: config.SweepInterval,
		stopCh:        make(chan struct{}),
		stats: types.CacheStats{
			Capacity: config.MaxBytes,
		},
	}

	if err := d.loadIndex(); err != nil {
		return nil, fmt.Errorf("load cache index: %w", err)
	}

	d.wg.Add(2)
	go d.syncLoop()
	go d.sweepLoop()

	return d, nil
}

// Get returns the value for key. A missing index row, an elapsed TTL, or
// an unreadable blob file all count as a miss; the unreadable case also
// deletes the stale row so the index heals itself.
func (d *DiskTier) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.TotalRequests++

	entry, ok := d.index[key]
	if !ok {
		d.stats.Misses++
		return nil, false
	}

	now := time.Now()
	if entry.expired(now) {
		d.removeEntry(key)
		d.stats.Misses++
		return nil, false
	}

	value, err := os.ReadFile(entry.FilePath)
	if err == nil && entry.Compressed {
		value, err = gunzipBytes(value)
	}
	if err != nil {
		d.logger.Warn("blob unreadable, healing index",
			"key", key, "path", entry.FilePath, "error", err)
		d.removeEntry(key)
		d.stats.Misses++
		return nil, false
	}

	entry.LastAccessed = now
	entry.AccessCount++
	d.dirty = true
	d.stats.Hits++
	return value, true
}

// Put writes the value to its blob file, upserts the index row, and then
// reclaims space oldest-access-first until the tier fits its byte bound.
// A value larger than the bound is rejected outright with no partial file.
func (d *DiskTier) Put(key string, value []byte, ttl time.Duration) bool {
	size := int64(len(value))
	if d.maxBytes > 0 && size > d.maxBytes {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	stored := value
	if d.compress {
		var err error
		stored, err = gzipBytes(value)
		if err != nil {
			d.logger.Warn("blob compression failed", "key", key, "error", err)
			return false
		}
	}

	path := d.blobPath(key)
	if err := writeFileAtomic(path, stored); err != nil {
		d.logger.Warn("blob write failed", "key", key, "error", err)
		return false
	}

	now := time.Now()
	if prior, ok := d.index[key]; ok {
		// Same key hashes to the same path, so the rename above already
		// replaced the prior blob; only the accounting needs fixing.
		d.currentSize -= prior.Size
	}
	d.index[key] = &diskEntry{
		Key:          key,
		FilePath:     path,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
		Size:         int64(len(stored)),
		Compressed:   d.compress,
	}
	d.currentSize += int64(len(stored))
	d.dirty = true

	for d.maxBytes > 0 && d.currentSize > d.maxBytes {
		if !d.evictOldest() {
			break
		}
	}
	return true
}

// Delete removes key's row and blob file, reporting whether it existed.
func (d *DiskTier) Delete(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[key]; !ok {
		return false
	}
	d.removeEntry(key)
	return true
}

// Clear removes every row and blob file.
func (d *DiskTier) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, entry := range d.index {
		if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("blob removal failed", "path", entry.FilePath, "error", err)
		}
	}
	d.index = make(map[string]*diskEntry)
	d.currentSize = 0
	d.dirty = true
}

// PurgeExpired removes every row whose TTL has elapsed and returns the
// number removed.
func (d *DiskTier) PurgeExpired() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	purged := 0
	for key, entry := range d.index {
		if entry.expired(now) {
			d.removeEntry(key)
			purged++
		}
	}
	return purged
}

// Stats returns a snapshot of the tier's counters.
func (d *DiskTier) Stats() types.CacheStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats
	stats.SizeBytes = d.currentSize
	if stats.TotalRequests > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalRequests)
	}
	if d.maxBytes > 0 {
		stats.Utilization = float64(d.currentSize) / float64(d.maxBytes)
	}
	return stats
}

// Len returns the number of indexed entries.
func (d *DiskTier) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.index)
}

// Keys returns all indexed keys in no particular order.
func (d *DiskTier) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.index))
	for key := range d.index {
		keys = append(keys, key)
	}
	return keys
}

// Close stops the background loops and writes the index a final time.
// Safe to call more than once.
func (d *DiskTier) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveIndex()
}

// Internal helpers. All assume d.mu is held unless noted.

func (d *DiskTier) blobPath(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(d.directory, fmt.Sprintf("%x.cache", hash[:8]))
}

func (d *DiskTier) removeEntry(key string) {
	entry, ok := d.index[key]
	if !ok {
		return
	}
	if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("blob removal failed", "path", entry.FilePath, "error", err)
	}
	delete(d.index, key)
	d.currentSize -= entry.Size
	d.dirty = true
}

func (d *DiskTier) evictOldest() bool {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, entry := range d.index {
		if first || entry.LastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastAccessed
			first = false
		}
	}
	if first {
		return false
	}
	d.removeEntry(oldestKey)
	d.stats.Evictions++
	return true
}

func (d *DiskTier) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(d.directory, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var rows map[string]*diskEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		// A corrupt index is not fatal. Start empty and drop the now
		// unreachable blobs.
		d.logger.Warn("index corrupt, starting empty", "error", err)
		d.removeAllBlobs()
		return nil
	}

	d.currentSize = 0
	for key, entry := range rows {
		if _, err := os.Stat(entry.FilePath); os.IsNotExist(err) {
			continue
		}
		d.index[key] = entry
		d.currentSize += entry.Size
	}
	return nil
}

func (d *DiskTier) removeAllBlobs() {
	blobs, err := filepath.Glob(filepath.Join(d.directory, "*.cache"))
	if err != nil {
		return
	}
	for _, blob := range blobs {
		if err := os.Remove(blob); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("blob removal failed", "path", blob, "error", err)
		}
	}
}

func (d *DiskTier) saveIndex() error {
	data, err := json.Marshal(d.index)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(d.directory, indexFileName), data); err != nil {
		return err
	}
	d.dirty = false
	return nil
}

func (d *DiskTier) syncLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.mu.Lock()
			if d.dirty {
				if err := d.saveIndex(); err != nil {
					d.logger.Warn("index sync failed", "error", err)
				}
			}
			d.mu.Unlock()
		}
	}
}

func (d *DiskTier) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.PurgeExpired()
		}
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// writeFileAtomic writes data to path via a temp file and rename so a
// crash never leaves a partial blob behind.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
