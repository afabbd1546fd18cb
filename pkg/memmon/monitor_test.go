package memmon

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type captureRecorder struct {
	mu    sync.Mutex
	calls int
}

func (c *captureRecorder) RecordSystemSnapshot(heapAlloc, heapSys uint64, gcCycles uint32, goroutines int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryMonitor_Current(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{Logger: quietLogger()}, nil)

	sample := monitor.Current()
	if sample.HeapAlloc == 0 {
		t.Error("expected nonzero heap allocation")
	}
	if sample.NumGoroutine == 0 {
		t.Error("expected at least one goroutine")
	}
	if sample.Timestamp.IsZero() {
		t.Error("sample timestamp not set")
	}
}

func TestMemoryMonitor_SamplingFeedsRecorder(t *testing.T) {
	recorder := &captureRecorder{}
	monitor := NewMemoryMonitor(MonitorConfig{
		SampleInterval: 5 * time.Millisecond,
		Logger:         quietLogger(),
	}, recorder)

	monitor.Start()
	time.Sleep(30 * time.Millisecond)
	monitor.Stop()

	recorder.mu.Lock()
	calls := recorder.calls
	recorder.mu.Unlock()
	if calls == 0 {
		t.Error("recorder never received a snapshot")
	}

	history := monitor.History()
	if len(history) == 0 {
		t.Error("no samples recorded")
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Error("history not ordered oldest first")
			break
		}
	}
}

func TestMemoryMonitor_HistoryBounded(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{
		MaxSamples: 3,
		Logger:     quietLogger(),
	}, nil)

	for i := 0; i < 10; i++ {
		monitor.collect()
	}

	if got := len(monitor.History()); got != 3 {
		t.Errorf("expected history capped at 3, got %d", got)
	}
}

func TestMemoryMonitor_StartStopIdempotent(t *testing.T) {
	monitor := NewMemoryMonitor(MonitorConfig{
		SampleInterval: time.Hour,
		Logger:         quietLogger(),
	}, nil)

	monitor.Start()
	monitor.Start() // no second goroutine
	monitor.Stop()
	monitor.Stop() // no panic on closed channel
}
