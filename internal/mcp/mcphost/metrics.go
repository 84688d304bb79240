package mcphost

import (
	"slices"
	"sync"
)

// defaultWindowSize is the default capacity of each tool's rolling window.
const defaultWindowSize = 100

// ToolStats is a snapshot of one tool's recent performance.
type ToolStats struct {
	Name string

	// Server is the name of the server that provides the tool, or "builtin".
	Server string

	// CallCount is the total number of invocations since registration.
	CallCount int

	// P50Ms and P99Ms are latency percentiles over the recent window.
	P50Ms int64
	P99Ms int64

	// ErrorRate is the fraction of failed calls in the recent window.
	ErrorRate float64
}

type sample struct {
	latencyMs int64
	failed    bool
}

// rollingWindow keeps the last size tool call outcomes in a ring buffer.
// All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []sample
	pos     int
	count   int
}

// newRollingWindow creates a window with the given capacity. A size of 0 or
// less defaults to [defaultWindowSize].
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{samples: make([]sample, size)}
}

// Record adds one outcome, overwriting the oldest once the buffer is full.
func (w *rollingWindow) Record(latencyMs int64, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = sample{latencyMs: latencyMs, failed: failed}
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
}

// window returns the meaningful samples. Caller holds mu.
func (w *rollingWindow) window() []sample {
	return w.samples[:min(w.count, len(w.samples))]
}

func (w *rollingWindow) sortedLatencies() []int64 {
	win := w.window()
	out := make([]int64, len(win))
	for i, s := range win {
		out[i] = s.latencyMs
	}
	slices.Sort(out)
	return out
}

// P50 returns the median latency in ms, or 0 without samples.
func (w *rollingWindow) P50() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	sorted := w.sortedLatencies()
	if len(sorted) == 0 {
		return 0
	}
	return sorted[len(sorted)/2]
}

// P99 returns the 99th-percentile latency in ms, or 0 without samples.
func (w *rollingWindow) P99() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	sorted := w.sortedLatencies()
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*0.99)]
}

// ErrorRate returns the fraction of failed calls in the window.
func (w *rollingWindow) ErrorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	win := w.window()
	if len(win) == 0 {
		return 0
	}
	failed := 0
	for _, s := range win {
		if s.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(win))
}

// Count returns the total number of recorded calls, which may exceed the
// window capacity.
func (w *rollingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
