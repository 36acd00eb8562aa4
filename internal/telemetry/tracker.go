package telemetry

import (
	"log/slog"
	"runtime"
	"time"
)

const (
	// DefaultSlowThreshold is the single-operation latency that logs a warning.
	DefaultSlowThreshold = 2 * time.Second

	// P95WarnMS is the rolling p95 above which every measurement warns.
	P95WarnMS = 2000.0
)

// Measurement is the outcome of one tracked operation.
type Measurement struct {
	Mode        string
	LatencyMS   float64
	P95MS       float64
	HeapAllocMB float64
}

// Fields renders m for result metadata.
func (m Measurement) Fields() map[string]any {
	return map[string]any{
		"latency_ms":    m.LatencyMS,
		"p95_ms":        m.P95MS,
		"heap_alloc_mb": m.HeapAllocMB,
	}
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithSlowThreshold overrides DefaultSlowThreshold.
func WithSlowThreshold(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.slow = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// Tracker times operations and feeds the dashboard.
type Tracker struct {
	dashboard *Dashboard
	slow      time.Duration
	now       func() time.Time
}

// NewTracker creates a tracker recording into d.
func NewTracker(d *Dashboard, opts ...TrackerOption) *Tracker {
	t := &Tracker{dashboard: d, slow: DefaultSlowThreshold, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track runs fn and records its latency under mode, whether or not it
// fails. fn's error is returned unchanged.
func (t *Tracker) Track(mode string, fn func() error) (Measurement, error) {
	start := t.now()
	err := fn()
	elapsed := t.now().Sub(start)

	m := Measurement{
		Mode:      mode,
		LatencyMS: float64(elapsed.Microseconds()) / 1000,
	}
	m.P95MS = t.dashboard.RecordLatency(mode, m.LatencyMS)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.HeapAllocMB = float64(mem.HeapAlloc) / (1 << 20)

	if elapsed > t.slow {
		slog.Warn("slow operation",
			slog.String("mode", mode),
			slog.Float64("latency_ms", m.LatencyMS),
			slog.Duration("threshold", t.slow))
	}
	if m.P95MS > P95WarnMS {
		slog.Warn("p95 latency above threshold",
			slog.String("mode", mode),
			slog.Float64("p95_ms", m.P95MS),
			slog.Float64("threshold_ms", P95WarnMS))
	}
	return m, err
}

// Dashboard returns the dashboard the tracker records into.
func (t *Tracker) Dashboard() *Dashboard { return t.dashboard }
