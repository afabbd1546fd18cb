package cache

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDiskTier(t *testing.T, dir string, maxBytes int64) *DiskTier {
	t.Helper()
	tier, err := NewDiskTier(DiskTierConfig{
		Directory: dir,
		MaxBytes:  maxBytes,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewDiskTier: %v", err)
	}
	return tier
}

func TestDiskTier_PutGet(t *testing.T) {
	tier := newTestDiskTier(t, t.TempDir(), 0)
	defer tier.Close()

	if !tier.Put("a", []byte("persisted"), time.Hour) {
		t.Fatal("Put rejected a value that fits")
	}

	value, ok := tier.Get("a")
	if !ok {
		t.Fatal("Get missed an existing key")
	}
	if string(value) != "persisted" {
		t.Errorf("expected %q, got %q", "persisted", string(value))
	}

	if _, ok := tier.Get("missing"); ok {
		t.Error("Get hit a key that was never stored")
	}
}

func TestDiskTier_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	tier := newTestDiskTier(t, dir, 0)
	tier.Put("durable", []byte("still here"), 0)
	if err := tier.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := newTestDiskTier(t, dir, 0)
	defer reopened.Close()

	value, ok := reopened.Get("durable")
	if !ok {
		t.Fatal("entry lost across restart")
	}
	if string(value) != "still here" {
		t.Errorf("expected %q, got %q", "still here", string(value))
	}
	if got := reopened.Stats().SizeBytes; got != int64(len("still here")) {
		t.Errorf("size accounting not restored: %d", got)
	}
}

func TestDiskTier_OversizedPutRejected(t *testing.T) {
	dir := t.TempDir()
	tier := newTestDiskTier(t, dir, 8)
	defer tier.Close()

	if tier.Put("big", make([]byte, 9), 0) {
		t.Error("Put accepted a value larger than the byte bound")
	}
	if tier.Len() != 0 {
		t.Errorf("expected empty tier, got %d entries", tier.Len())
	}

	blobs, _ := filepath.Glob(filepath.Join(dir, "*.cache"))
	if len(blobs) != 0 {
		t.Errorf("rejected Put left %d blob file(s) behind", len(blobs))
	}
}

func TestDiskTier_TTLExpiry(t *testing.T) {
	tier := newTestDiskTier(t, t.TempDir(), 0)
	defer tier.Close()

	tier.Put("short", []byte("v"), time.Nanosecond)
	tier.Put("forever", []byte("v"), 0)
	time.Sleep(5 * time.Millisecond)

	if _, ok := tier.Get("short"); ok {
		t.Error("expired entry served as a hit")
	}
	if _, ok := tier.Get("forever"); !ok {
		t.Error("zero TTL must mean no expiry")
	}
	if tier.Len() != 1 {
		t.Errorf("expired entry not removed, Len=%d", tier.Len())
	}
}

func TestDiskTier_DeleteRemovesBlob(t *testing.T) {
	dir := t.TempDir()
	tier := newTestDiskTier(t, dir, 0)
	defer tier.Close()

	tier.Put("k", []byte("v"), 0)
	if !tier.Delete("k") {
		t.Fatal("Delete missed an existing key")
	}
	if tier.Delete("k") {
		t.Error("Delete reported success for an absent key")
	}

	blobs, _ := filepath.Glob(filepath.Join(dir, "*.cache"))
	if len(blobs) != 0 {
		t.Errorf("Delete left %d blob file(s) behind", len(blobs))
	}
}

func TestDiskTier_ReclaimsOldestFirst(t *testing.T) {
	tier := newTestDiskTier(t, t.TempDir(), 10)
	defer tier.Close()

	tier.Put("old", []byte("aaaa"), 0)
	time.Sleep(2 * time.Millisecond)
	tier.Put("mid", []byte("bbbb"), 0)
	time.Sleep(2 * time.Millisecond)

	// 4 more bytes exceeds the 10-byte bound; the least recently accessed
	// entry goes first.
	tier.Put("new", []byte("cccc"), 0)

	if _, ok := tier.Get("old"); ok {
		t.Error("expected oldest entry reclaimed")
	}
	for _, key := range []string{"mid", "new"} {
		if _, ok := tier.Get(key); !ok {
			t.Errorf("expected %s to survive reclaim", key)
		}
	}
	if got := tier.Stats().Evictions; got != 1 {
		t.Errorf("expected 1 eviction, got %d", got)
	}
}

func TestDiskTier_SelfHealsUnreadableBlob(t *testing.T) {
	dir := t.TempDir()
	tier := newTestDiskTier(t, dir, 0)
	defer tier.Close()

	tier.Put("damaged", []byte("v"), 0)

	blobs, err := filepath.Glob(filepath.Join(dir, "*.cache"))
	if err != nil || len(blobs) != 1 {
		t.Fatalf("expected exactly one blob, got %v (%v)", blobs, err)
	}
	if err := os.Remove(blobs[0]); err != nil {
		t.Fatalf("removing blob: %v", err)
	}

	if _, ok := tier.Get("damaged"); ok {
		t.Error("Get served a hit with no blob on disk")
	}
	if tier.Len() != 0 {
		t.Error("stale index row not healed away")
	}
	// The healed index no longer references the key at all.
	if _, ok := tier.Get("damaged"); ok {
		t.Error("healed key resurrected")
	}
}

func TestDiskTier_CorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()

	tier := newTestDiskTier(t, dir, 0)
	tier.Put("k", []byte("v"), 0)
	tier.Close()

	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupting index: %v", err)
	}

	reopened := newTestDiskTier(t, dir, 0)
	defer reopened.Close()

	if reopened.Len() != 0 {
		t.Errorf("expected empty tier after corrupt index, Len=%d", reopened.Len())
	}
	blobs, _ := filepath.Glob(filepath.Join(dir, "*.cache"))
	if len(blobs) != 0 {
		t.Errorf("orphaned blobs not removed: %v", blobs)
	}
}

func TestDiskTier_ReplaceAccounting(t *testing.T) {
	tier := newTestDiskTier(t, t.TempDir(), 0)
	defer tier.Close()

	tier.Put("k", make([]byte, 60), 0)
	tier.Put("k", make([]byte, 25), 0)

	if tier.Len() != 1 {
		t.Fatalf("replace duplicated the entry: Len=%d", tier.Len())
	}
	if got := tier.Stats().SizeBytes; got != 25 {
		t.Errorf("expected 25 bytes after replace, got %d", got)
	}
}

func TestDiskTier_Clear(t *testing.T) {
	dir := t.TempDir()
	tier := newTestDiskTier(t, dir, 0)
	defer tier.Close()

	tier.Put("a", []byte("1"), 0)
	tier.Put("b", []byte("2"), 0)
	tier.Clear()

	if tier.Len() != 0 {
		t.Errorf("expected empty tier, got %d entries", tier.Len())
	}
	blobs, _ := filepath.Glob(filepath.Join(dir, "*.cache"))
	if len(blobs) != 0 {
		t.Errorf("Clear left %d blob file(s) behind", len(blobs))
	}
}

func TestDiskTier_CompressionRoundTrip(t *testing.T) {
	dir := t.TempDir()

	tier, err := NewDiskTier(DiskTierConfig{
		Directory: dir,
		Compress:  true,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewDiskTier: %v", err)
	}

	payload := bytes.Repeat([]byte("compressible "), 200)
	if !tier.Put("blob", payload, 0) {
		t.Fatal("Put failed")
	}

	value, ok := tier.Get("blob")
	if !ok || !bytes.Equal(value, payload) {
		t.Fatal("compressed round trip lost data")
	}

	// Accounting tracks the on-disk footprint, not the raw length.
	if got := tier.Stats().SizeBytes; got >= int64(len(payload)) {
		t.Errorf("expected compressed size below %d, got %d", len(payload), got)
	}
	tier.Close()

	// Entries stay readable when the tier reopens without compression,
	// because the index row remembers the encoding.
	reopened := newTestDiskTier(t, dir, 0)
	defer reopened.Close()
	value, ok = reopened.Get("blob")
	if !ok || !bytes.Equal(value, payload) {
		t.Error("compressed entry unreadable after reopening uncompressed")
	}
}

func TestDiskTier_CloseIdempotent(t *testing.T) {
	tier := newTestDiskTier(t, t.TempDir(), 0)

	if err := tier.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tier.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if tier.Put("late", []byte("v"), 0) {
		t.Error("Put accepted a write after Close")
	}
}
