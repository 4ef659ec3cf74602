package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and spends a bucket atomically.
// KEYS[1] bucket key, ARGV: refill rate/s, capacity, cost, now (unix seconds).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return allowed
`)

// RedisStore shares buckets between replicas through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "truthtag:ratelimit:"}
}

// DialRedis connects to addr and verifies the server answers PING.
func DialRedis(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	n, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + key},
		policy.perSecond(), policy.burst(), cost, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return n == 1, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
