package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and takes one token atomically.
// Returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local intervals = math.floor(elapsed / interval_ms)
if intervals > 0 then
  tokens = math.min(capacity, tokens + intervals)
  last_refill = last_refill + intervals * interval_ms
end

local allowed = 0
local retry_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return {allowed, tokens, retry_ms}
`)

// RedisLimiter is a token bucket per key shared by every server instance through Redis.
type RedisLimiter struct {
	rdb       redis.Scripter
	prefix    string
	perMinute int
	now       func() time.Time
}

// NewRedisLimiter allows perMinute requests per key per minute, refilling one token every minute/perMinute.
func NewRedisLimiter(rdb redis.Scripter, prefix string, perMinute int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, perMinute: perMinute, now: time.Now}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.perMinute <= 0 {
		return true, 0, nil
	}
	interval := time.Minute / time.Duration(l.perMinute)
	vals, err := tokenBucketScript.Run(ctx, l.rdb, []string{l.prefix + key},
		l.now().UnixMilli(), l.perMinute, interval.Milliseconds(), 120,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis token bucket: %w", err)
	}
	if len(vals) != 3 {
		return false, 0, fmt.Errorf("redis token bucket: unexpected result %v", vals)
	}
	return vals[0] == 1, time.Duration(vals[2]) * time.Millisecond, nil
}
