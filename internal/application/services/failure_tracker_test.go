package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureTracker(t *testing.T) {
	t.Parallel()

	tracker := NewFailureTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordFailure("g1/ranks")
		}()
	}
	wg.Wait()
	tracker.RecordFailure("g2/ranks")

	assert.Equal(t, 10, tracker.Count("g1/ranks"))
	assert.Equal(t, []string{"g1/ranks"}, tracker.Unhealthy(5))
	assert.Equal(t, []string{"g1/ranks", "g2/ranks"}, tracker.Unhealthy(1))

	tracker.RecordSuccess("g1/ranks")
	assert.Zero(t, tracker.Count("g1/ranks"))
	assert.Empty(t, tracker.Unhealthy(5))
}
