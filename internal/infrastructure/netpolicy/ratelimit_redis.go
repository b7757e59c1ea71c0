package netpolicy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisSlidingWindowScript keeps one sorted set of request timestamps per key.
// KEYS[1] = window key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = max requests per window
// ARGV[4] = unique member for this request
var redisSlidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
    return {0, count}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return {1, count + 1}
`)

// RedisSlidingWindow shares rate-limit windows across host processes through Redis.
type RedisSlidingWindow struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	max    int
}

// NewRedisSlidingWindow creates a Redis-backed limiter.
func NewRedisSlidingWindow(client redis.UniversalClient, window time.Duration, max int) *RedisSlidingWindow {
	return &RedisSlidingWindow{
		client: client,
		prefix: "guildhook:egress:",
		window: window,
		max:    max,
	}
}

// Allow executes the Lua script to check and charge the window.
func (r *RedisSlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := redisSlidingWindowScript.Run(ctx, r.client,
		[]string{r.prefix + key},
		now, r.window.Milliseconds(), r.max, uuid.NewString(),
	).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from lua script")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
