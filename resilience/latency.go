package resilience

import (
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of latencies per key and reports
// percentiles from it. Hedge keys samples by request host.
//
// The tracker is safe for concurrent use.
type LatencyTracker struct {
	mu         sync.RWMutex
	windows    map[string]*latencyWindow
	windowSize int
	minSamples int
}

// latencyWindow is a ring buffer of samples.
type latencyWindow struct {
	samples []time.Duration
	head    int
	count   int
}

// NewLatencyTracker creates a tracker keeping windowSize samples per key
// and answering percentiles once minSamples were recorded. Non-positive
// values default to 100 and 10.
func NewLatencyTracker(windowSize, minSamples int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 100
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	return &LatencyTracker{
		windows:    make(map[string]*latencyWindow),
		windowSize: windowSize,
		minSamples: min(minSamples, windowSize),
	}
}

// Record adds a sample for key, evicting the oldest when the window is full.
func (t *LatencyTracker) Record(key string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[key]
	if !ok {
		w = &latencyWindow{samples: make([]time.Duration, t.windowSize)}
		t.windows[key] = w
	}
	w.samples[w.head] = latency
	w.head = (w.head + 1) % t.windowSize
	if w.count < t.windowSize {
		w.count++
	}
}

// Percentile returns the p-th (0 to 1) latency of key. It reports false
// until enough samples were recorded.
func (t *LatencyTracker) Percentile(key string, p float64) (time.Duration, bool) {
	t.mu.RLock()
	w, ok := t.windows[key]
	if !ok || w.count < t.minSamples {
		t.mu.RUnlock()
		return 0, false
	}
	samples := slices.Clone(w.samples[:w.count])
	t.mu.RUnlock()

	slices.Sort(samples)
	idx := min(int(float64(len(samples)-1)*p), len(samples)-1)
	return samples[max(idx, 0)], true
}

// Count returns the number of samples held for key.
func (t *LatencyTracker) Count(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if w, ok := t.windows[key]; ok {
		return w.count
	}
	return 0
}

// Reset drops every sample.
func (t *LatencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows = make(map[string]*latencyWindow)
}
