// Package telemetry records pipeline latency and exposes rolling p95 per
// retrieval mode. All data stays local.
package telemetry

import (
	"math"
	"slices"
	"sync"
)

// DefaultWindowSize is the per-mode sample capacity.
const DefaultWindowSize = 100

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer; non-positive capacity uses DefaultWindowSize.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffer contents oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Last returns the newest item.
func (b *CircularBuffer[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.head-1+b.capacity)%b.capacity], true
}

// Size returns the number of items held.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of items.
func (b *CircularBuffer[T]) Capacity() int { return b.capacity }

// Clear removes all items.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.head = 0
	b.size = 0
}

// LatencyWindow holds the most recent latency samples of one mode and keeps
// their p95 current.
type LatencyWindow struct {
	mu      sync.Mutex
	samples *CircularBuffer[float64]
	p95     float64
}

// NewLatencyWindow creates an empty window.
func NewLatencyWindow(capacity int) *LatencyWindow {
	return &LatencyWindow{samples: NewCircularBuffer[float64](capacity)}
}

// Add records a sample and returns the updated p95.
func (w *LatencyWindow) Add(ms float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples.Add(ms)
	w.p95 = Percentile(w.samples.Items(), 95)
	return w.p95
}

// P95 returns the p95 as of the last Add, or 0 for an empty window.
func (w *LatencyWindow) P95() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.p95
}

// Samples returns the samples oldest first.
func (w *LatencyWindow) Samples() []float64 {
	return w.samples.Items()
}

// Len returns the number of samples held.
func (w *LatencyWindow) Len() int { return w.samples.Size() }

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between the closest ranks: with the values sorted, the
// result sits at fractional index (n-1)*p/100. An empty slice gives 0.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n == 1 {
		return sorted[0]
	}

	p = math.Max(0, math.Min(100, p))
	h := float64(n-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
