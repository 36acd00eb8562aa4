package config

import "sync"

// Listener receives the resolved configuration after each committed change.
type Listener func(resolved Settings)

// HotReloader fans committed configurations out to listeners, synchronously
// and in registration order.
type HotReloader struct {
	mu        sync.Mutex
	listeners []Listener
}

// Register appends a listener.
func (h *HotReloader) Register(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// Notify calls every listener with its own copy of resolved.
func (h *HotReloader) Notify(resolved Settings) {
	h.mu.Lock()
	listeners := make([]Listener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	for _, l := range listeners {
		l(resolved.Clone())
	}
}
