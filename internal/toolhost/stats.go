package toolhost

import (
	"slices"
	"sync"
	"time"
)

// ToolStats is a point-in-time summary of one tool's recent executions.
type ToolStats struct {
	Name      string
	Server    string
	Calls     int
	ErrorRate float64
	P50       time.Duration
	P99       time.Duration
}

// window tracks the last N call latencies of a tool in a ring buffer.
// All methods are safe for concurrent use.
type window struct {
	mu      sync.Mutex
	samples []time.Duration
	failed  []bool
	pos     int
	count   int
}

func newWindow(size int) *window {
	if size <= 0 {
		size = 100
	}
	return &window{
		samples: make([]time.Duration, size),
		failed:  make([]bool, size),
	}
}

// record overwrites the oldest sample once the buffer is full.
func (w *window) record(d time.Duration, isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = d
	w.failed[w.pos] = isError
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
}

func (w *window) len() int { return min(w.count, len(w.samples)) }

// summary returns total calls, error rate, p50 and p99 over the window.
func (w *window) summary() (calls int, errRate float64, p50, p99 time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.len()
	if n == 0 {
		return w.count, 0, 0, 0
	}
	sorted := slices.Clone(w.samples[:n])
	slices.Sort(sorted)
	errs := 0
	for _, f := range w.failed[:n] {
		if f {
			errs++
		}
	}
	return w.count, float64(errs) / float64(n), sorted[n/2], sorted[int(float64(n-1)*0.99)]
}
