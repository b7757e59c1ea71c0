package services

import (
	"sort"
	"sync"
)

// FailureTracker counts consecutive failed runs per installation key.
// It only keeps the books; disabling an installation is left to the operator.
type FailureTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewFailureTracker creates an empty tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{counts: make(map[string]int)}
}

// RecordSuccess resets the counter for key.
func (t *FailureTracker) RecordSuccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, key)
}

// RecordFailure increments the counter for key and returns the new count.
func (t *FailureTracker) RecordFailure(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[key]++
	return t.counts[key]
}

// Count returns the current consecutive failure count for key.
func (t *FailureTracker) Count(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[key]
}

// Unhealthy returns the keys whose count has reached threshold.
func (t *FailureTracker) Unhealthy(threshold int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var keys []string
	for k, n := range t.counts {
		if n >= threshold {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
