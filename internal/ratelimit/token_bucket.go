package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket refills continuously at rate tokens per second up to burst.
// Redis truncates Lua numbers to integers on return, so the script reports
// whole remaining tokens and the retry delay in milliseconds.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
else
  local elapsed = math.max(0, now - ts)
  tokens = math.min(burst, tokens + elapsed * rate / 1000)
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens), retry}
`

var errBucketReply = errors.New("token bucket: unexpected script reply")

// TokenBucket meters SDR submissions per customer in redis.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

// RateLimitResult is one bucket decision. RetryAfter is set when denied.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client, rate float64, burst int) (*TokenBucket, error) {
	if client == nil {
		return nil, nil
	}
	if rate <= 0 || burst <= 0 {
		return nil, fmt.Errorf("token bucket: rate %v and burst %d must be positive", rate, burst)
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   rate,
		burst:  burst,
		ttl:    bucketTTL(rate, burst),
	}, nil
}

// Take spends one token from the bucket under key.
func (b *TokenBucket) Take(ctx context.Context, key string) (*RateLimitResult, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("token bucket not configured")
	}
	if key == "" {
		return nil, errors.New("token bucket key is empty")
	}

	reply, err := b.script.Run(ctx, b.client, []string{key}, b.rate, b.burst, b.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, err
	}
	return parseBucketReply(reply)
}

func parseBucketReply(reply []int64) (*RateLimitResult, error) {
	if len(reply) != 3 {
		return nil, fmt.Errorf("%w: %d values", errBucketReply, len(reply))
	}
	res := &RateLimitResult{
		Allowed:   reply[0] == 1,
		Remaining: int(reply[1]),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(reply[2]) * time.Millisecond
	}
	return res, nil
}

// bucketTTL keeps an idle bucket around for twice its full refill time, after
// which a fresh full bucket is equivalent.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(2 * float64(burst) / rate)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
