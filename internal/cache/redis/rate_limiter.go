package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowLua counts requests in the last window and admits one more
// when under the limit. Returns {allowed, count}.
//
// KEYS[1] zset, ARGV[1] now (µs), ARGV[2] window (µs), ARGV[3] limit,
// ARGV[4] member.
const slidingWindowLua = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[3]) then
    redis.call('ZADD', KEYS[1], now, ARGV[4])
    redis.call('PEXPIRE', KEYS[1], math.ceil(window / 1000))
    return {1, count + 1}
end
return {0, count}
`

const waitPollInterval = 50 * time.Millisecond

// RateLimiter is a sliding-window limiter on a shared key, so every agent
// using the same OpenSea API key draws from one quota.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	key           string
	limit         int
	window        time.Duration
}

// NewRateLimiter allows limit requests per window on name.
func NewRateLimiter(c *Client, name string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		key:           rateLimitKey(name),
		limit:         limit,
		window:        window,
	}
}

func rateLimitKey(name string) string {
	return "ratelimit:" + name
}

// Allow counts one request if the window has room and reports whether it
// did.
func (rl *RateLimiter) Allow(ctx context.Context) (bool, error) {
	now := time.Now().UnixMicro()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	result, err := rl.slidingWindow.Run(ctx, rl.rdb, []string{rl.key},
		now, rl.window.Microseconds(), rl.limit, member,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", rl.key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", rl.key, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until Allow admits a request or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, err := rl.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", rl.key, ctx.Err())
		case <-timer.C:
		}
	}
}
