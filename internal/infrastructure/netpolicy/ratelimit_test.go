package netpolicy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_RejectsPastMax(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := NewSlidingWindow(RateLimitWindow, RateLimitMaxRequests)

	for i := 1; i <= RateLimitMaxRequests; i++ {
		ok, err := w.Allow(ctx, "g1/ext")
		require.NoError(t, err)
		assert.True(t, ok, "call %d should pass", i)
	}
	ok, err := w.Allow(ctx, "g1/ext")
	require.NoError(t, err)
	assert.False(t, ok, "call 31 should be rejected")

	ok, err = w.Allow(ctx, "g2/ext")
	require.NoError(t, err)
	assert.True(t, ok, "another tenant has its own window")
}

func TestSlidingWindow_Slides(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	w := NewSlidingWindow(time.Minute, 2)
	w.now = func() time.Time { return now }

	ok, _ := w.Allow(ctx, "k")
	assert.True(t, ok)
	now = now.Add(30 * time.Second)
	ok, _ = w.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = w.Allow(ctx, "k")
	assert.False(t, ok)

	now = now.Add(31 * time.Second) // first hit leaves the window
	ok, _ = w.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = w.Allow(ctx, "k")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	w.Prune()
	w.mu.Lock()
	assert.Empty(t, w.hits)
	w.mu.Unlock()
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := NewSlidingWindow(time.Minute, 30)

	var mu sync.Mutex
	allowed := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("tenant-%d/ext", i%2)
			ok, err := w.Allow(ctx, key)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				allowed[key]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 30, allowed["tenant-0/ext"])
	assert.Equal(t, 30, allowed["tenant-1/ext"])
}

// TestRedisSlidingWindow_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisSlidingWindow_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer client.Close()

	key := fmt.Sprintf("test-%d/ext", time.Now().UnixNano())
	limiter := NewRedisSlidingWindow(client, 2*time.Second, 3)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(2100 * time.Millisecond)
	ok, err = limiter.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}
