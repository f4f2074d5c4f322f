package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript implements an atomic token-bucket rate limiter in
// Redis, keyed by MCP server name instead of actor id.
//
// KEYS[1] = bucket key ("ccos:mcp:ratelimit:<server>")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, floating point)
var redisTokenBucketScript = redis.NewScript(`
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
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisRateLimiter is a shared, cross-process rate limiter for MCP discovery
// backed by Redis: the per-server rate_limit.rpm budget should hold across a
// fleet, but an in-process golang.org/x/time/rate.Limiter only enforces that
// within one process, so deployments running several discovery workers
// against the same server share this bucket instead of each getting their
// own quota.
type RedisRateLimiter struct {
	client *redis.Client
	key    string
	rate   float64
	burst  int
}

// NewRedisRateLimiter creates a rate limiter for serverName backed by client,
// allowing rpm requests per minute (default 60 if non-positive).
func NewRedisRateLimiter(client *redis.Client, serverName string, rpm int) *RedisRateLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	return &RedisRateLimiter{
		client: client,
		key:    fmt.Sprintf("ccos:mcp:ratelimit:%s", serverName),
		rate:   float64(rpm) / 60.0,
		burst:  rpm,
	}
}

// Wait blocks until the shared bucket grants a token or ctx is done. The
// bucket is a polled store rather than a blocking primitive, so this mirrors
// golang.org/x/time/rate.Limiter.Wait's semantics on top of Redis: retry
// after a short delay sized to the refill rate until a token is available.
func (r *RedisRateLimiter) Wait(ctx context.Context) error {
	for {
		now := float64(time.Now().UnixMicro()) / 1e6
		res, err := redisTokenBucketScript.Run(ctx, r.client, []string{r.key}, r.rate, r.burst, 1, now).Result()
		if err != nil {
			return fmt.Errorf("discovery: redis rate limiter: %w", err)
		}

		results, ok := res.([]interface{})
		if !ok || len(results) != 2 {
			return fmt.Errorf("discovery: redis rate limiter: unexpected script result")
		}
		if allowed, _ := results[0].(int64); allowed == 1 {
			return nil
		}

		delay := time.Second
		if r.rate > 0 {
			delay = time.Duration(float64(time.Second) / r.rate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
