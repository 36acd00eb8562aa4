package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// CircularBuffer
// ============================================================================

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	b := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}

	assert.Equal(t, []int{3, 4, 5}, b.Items())
	assert.Equal(t, 3, b.Size())
	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestCircularBuffer_Empty(t *testing.T) {
	b := NewCircularBuffer[string](0)
	assert.Equal(t, DefaultWindowSize, b.Capacity())
	assert.Empty(t, b.Items())
	_, ok := b.Last()
	assert.False(t, ok)

	b.Add("x")
	b.Clear()
	assert.Zero(t, b.Size())
}

// ============================================================================
// Percentile
// ============================================================================

func TestPercentile_LinearInterpolation(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"five samples", []float64{100, 200, 300, 400, 500}, 95, 480},
		{"unsorted input", []float64{500, 100, 400, 200, 300}, 95, 480},
		{"median", []float64{1, 2, 3, 4}, 50, 2.5},
		{"single", []float64{42}, 95, 42},
		{"empty", nil, 95, 0},
		{"max", []float64{1, 9, 3}, 100, 9},
		{"min", []float64{1, 9, 3}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.values, tt.p), 1e-9)
		})
	}
}

func TestPercentile_DoesNotSortInput(t *testing.T) {
	in := []float64{3, 1, 2}
	_ = Percentile(in, 95)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

// ============================================================================
// LatencyWindow
// ============================================================================

func TestLatencyWindow_P95OnEveryInsert(t *testing.T) {
	// Given: a window holding five samples
	w := NewLatencyWindow(5)

	// When: inserting 100..500
	var last float64
	for _, ms := range []float64{100, 200, 300, 400, 500} {
		last = w.Add(ms)
	}

	// Then
	assert.InDelta(t, 480, last, 1e-9)
	assert.InDelta(t, 480, w.P95(), 1e-9)

	// And: a sixth sample evicts 100
	w.Add(600)
	assert.Equal(t, []float64{200, 300, 400, 500, 600}, w.Samples())
	assert.InDelta(t, 580, w.P95(), 1e-9)
}

func TestLatencyWindow_Empty(t *testing.T) {
	w := NewLatencyWindow(10)
	assert.Zero(t, w.P95())
	assert.Zero(t, w.Len())
}
