package httpmiddleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

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
		last_refill = last_refill + (intervals * interval_ms)
	end

	local allowed = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)
	return allowed
`)

// RedisTokenBucket shares one bucket per key across instances. The refill
// happens inside a Lua script so concurrent requests cannot overdraw it.
type RedisTokenBucket struct {
	client    *redis.Client
	prefix    string
	capacity  int
	perMinute int
	now       func() time.Time
}

func NewRedisTokenBucket(client *redis.Client, capacity, perMinute int) *RedisTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &RedisTokenBucket{
		client:    client,
		prefix:    "rsvp:ratelimit:",
		capacity:  capacity,
		perMinute: perMinute,
		now:       time.Now,
	}
}

func (l *RedisTokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	if l.perMinute <= 0 {
		return true, nil
	}
	interval := time.Minute / time.Duration(l.perMinute)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key},
		l.now().UnixMilli(), l.capacity, interval.Milliseconds(), 120).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}
