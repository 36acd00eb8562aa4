package telemetry

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Record kinds written with Dashboard.Log.
const (
	KindQuery  = "query"
	KindIngest = "ingest"
)

// Record is one logged pipeline event.
type Record struct {
	Kind      string         `json:"kind"`
	Mode      string         `json:"mode,omitempty"`
	LatencyMS float64        `json:"latency_ms"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// DashboardOption configures a Dashboard.
type DashboardOption func(*Dashboard)

// WithStore persists every recorded sample to s.
func WithStore(s LatencyStore) DashboardOption {
	return func(d *Dashboard) { d.store = s }
}

// WithLogCapacity bounds the event log.
func WithLogCapacity(n int) DashboardOption {
	return func(d *Dashboard) {
		if n > 0 {
			d.log = NewCircularBuffer[Record](n)
		}
	}
}

// Dashboard keeps a rolling latency window per mode plus a short event log.
// Windows are created on first use. Safe for concurrent use.
type Dashboard struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string]*LatencyWindow
	log      *CircularBuffer[Record]
	store    LatencyStore
}

// NewDashboard creates a dashboard whose windows hold capacity samples.
func NewDashboard(capacity int, opts ...DashboardOption) *Dashboard {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	d := &Dashboard{
		capacity: capacity,
		windows:  make(map[string]*LatencyWindow),
		log:      NewCircularBuffer[Record](DefaultWindowSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Restore refills the windows from the store. It is a no-op without one.
func (d *Dashboard) Restore() error {
	if d.store == nil {
		return nil
	}
	modes, err := d.store.Modes()
	if err != nil {
		return err
	}
	for _, mode := range modes {
		samples, err := d.store.Recent(mode, d.capacity)
		if err != nil {
			return err
		}
		w := d.window(mode)
		for _, ms := range samples {
			w.Add(ms)
		}
	}
	return nil
}

func (d *Dashboard) window(mode string) *LatencyWindow {
	d.mu.RLock()
	w, ok := d.windows[mode]
	d.mu.RUnlock()
	if ok {
		return w
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok = d.windows[mode]; !ok {
		w = NewLatencyWindow(d.capacity)
		d.windows[mode] = w
	}
	return w
}

// RecordLatency adds a sample to mode's window and returns its new p95.
func (d *Dashboard) RecordLatency(mode string, ms float64) float64 {
	p95 := d.window(mode).Add(ms)
	if d.store != nil {
		if err := d.store.Append(mode, ms, time.Now()); err != nil {
			slog.Warn("failed to persist latency sample",
				slog.String("mode", mode),
				slog.String("error", err.Error()))
		}
	}
	return p95
}

// P95Latency returns mode's current p95, or 0 if nothing was recorded.
func (d *Dashboard) P95Latency(mode string) float64 {
	d.mu.RLock()
	w, ok := d.windows[mode]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	return w.P95()
}

// P95Metrics returns the p95 of every mode seen so far.
func (d *Dashboard) P95Metrics() map[string]float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]float64, len(d.windows))
	for mode, w := range d.windows {
		out[mode] = w.P95()
	}
	return out
}

// Modes returns the recorded modes, sorted.
func (d *Dashboard) Modes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.windows))
}

// Samples returns mode's window contents, oldest first.
func (d *Dashboard) Samples(mode string) []float64 {
	d.mu.RLock()
	w, ok := d.windows[mode]
	d.mu.RUnlock()
	if !ok {
		return []float64{}
	}
	return w.Samples()
}

// Log appends an event. A zero timestamp is set to now.
func (d *Dashboard) Log(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	d.log.Add(r)
}

// Latest returns the newest logged event.
func (d *Dashboard) Latest() (Record, bool) {
	return d.log.Last()
}

// Records returns the event log, oldest first.
func (d *Dashboard) Records() []Record {
	return d.log.Items()
}

// Capacity returns the per-mode window size.
func (d *Dashboard) Capacity() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.capacity
}

// Resize changes the window size. Existing windows keep their newest
// samples and recompute p95. A store that supports it retains the same
// number of rows.
func (d *Dashboard) Resize(capacity int) {
	if capacity <= 0 {
		return
	}
	d.mu.Lock()
	if capacity == d.capacity {
		d.mu.Unlock()
		return
	}
	d.capacity = capacity
	for mode, w := range d.windows {
		samples := w.Samples()
		nw := NewLatencyWindow(capacity)
		for _, ms := range samples[max(0, len(samples)-capacity):] {
			nw.Add(ms)
		}
		d.windows[mode] = nw
	}
	d.mu.Unlock()

	if k, ok := d.store.(interface{ SetKeep(int) }); ok {
		k.SetKeep(capacity)
	}
}

// Reset drops every window, the event log and any persisted samples.
func (d *Dashboard) Reset() error {
	d.mu.Lock()
	d.windows = make(map[string]*LatencyWindow)
	d.mu.Unlock()
	d.log.Clear()
	if d.store != nil {
		return d.store.Clear()
	}
	return nil
}
