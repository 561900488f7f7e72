package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// A window is a hash: n holds the hit count and w the id of the window that
// counted them. The id changes only when the key expires, so a refund can
// tell whether its hit is still in the current window.
var (
	hitScript = redis.NewScript(`
local count = redis.call('HINCRBY', KEYS[1], 'n', 1)
local window = redis.call('HGET', KEYS[1], 'w')
if not window then
	window = ARGV[2]
	redis.call('HSET', KEYS[1], 'w', window)
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl, window}
`)

	refundScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'w') ~= ARGV[1] then
	return -1
end
local current = tonumber(redis.call('HGET', KEYS[1], 'n') or '0')
if current > 0 then
	return redis.call('HINCRBY', KEYS[1], 'n', -1)
end
return 0
`)
)

// Hit is the state of a window right after one increment.
type Hit struct {
	Count int64
	TTL   time.Duration
	// Window identifies the window that counted this hit.
	Window string
}

// Counter is a fixed-window hit counter over Redis. It holds no local state
// and is safe for concurrent use.
type Counter struct {
	redis  redis.UniversalClient
	prefix string
}

// NewCounter creates a Counter whose keys live under prefix.
func NewCounter(redisClient redis.UniversalClient, prefix string) *Counter {
	if prefix == "" {
		prefix = "rl"
	}
	return &Counter{redis: redisClient, prefix: prefix}
}

// Key composes the storage key for a policy and client.
func (c *Counter) Key(policy, client string) string {
	return c.prefix + ":" + policy + ":" + client
}

// Hit increments key and starts the window on the first hit.
func (c *Counter) Hit(ctx context.Context, key string, window time.Duration) (Hit, error) {
	if window <= 0 {
		return Hit{}, errors.New("rate: window must be > 0")
	}

	res, err := hitScript.Run(ctx, c.redis, []string{key}, window.Milliseconds(), uuid.NewString()).Slice()
	if err != nil {
		return Hit{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Hit{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}
	count, ok1 := res[0].(int64)
	ttl, ok2 := res[1].(int64)
	id, ok3 := res[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return Hit{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}

	return Hit{Count: count, TTL: time.Duration(ttl) * time.Millisecond, Window: id}, nil
}

// Refund undoes one hit counted in window. It reports false when that window
// has already expired or been reset, leaving any newer window untouched. It
// never drives the counter below zero and never recreates a key.
func (c *Counter) Refund(ctx context.Context, key, window string) (bool, error) {
	n, err := refundScript.Run(ctx, c.redis, []string{key}, window).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n >= 0, nil
}

// Peek returns the current count and remaining window without incrementing.
// A missing key reports zero.
func (c *Counter) Peek(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := c.redis.Pipeline()
	getCmd := pipe.HGet(ctx, key, "n")
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}

// Reset deletes the counter, reopening the window immediately.
func (c *Counter) Reset(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
