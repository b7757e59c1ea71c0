package netpolicy

import (
	"context"
	"sync"
	"time"
)

// Limiter charges one request against key's window.
// Allow returns false when the window is full; the request must then be rejected, not queued.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SlidingWindow is an in-process sliding-window limiter keyed by tenant/extension.
type SlidingWindow struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewSlidingWindow creates a limiter admitting max requests per window for each key.
func NewSlidingWindow(window time.Duration, max int) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		max:    max,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records a request for key if the window has room.
func (w *SlidingWindow) Allow(_ context.Context, key string) (bool, error) {
	now := w.now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	hits := w.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= w.max {
		w.hits[key] = hits
		return false, nil
	}
	w.hits[key] = append(hits, now)
	return true, nil
}

// Prune drops keys with no requests inside the window.
func (w *SlidingWindow) Prune() {
	cutoff := w.now().Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()
	for key, hits := range w.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(w.hits, key)
		}
	}
}
