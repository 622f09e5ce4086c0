package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Tokens are stored as integer millitokens because Lua numbers returned to
// redis clients are truncated to integers.
const takeScript = `
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2]) * 1000
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "milli", "at")
local milli = tonumber(state[1])
local at = tonumber(state[2])
if milli == nil then
  milli = capacity
else
  local elapsed = math.max(0, now - at)
  milli = math.min(capacity, milli + math.floor(elapsed * rate))
end

local granted = 0
if milli >= 1000 then
  granted = 1
  milli = milli - 1000
end

redis.call("HSET", KEYS[1], "milli", milli, "at", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {granted, milli}
`

var (
	ErrNoClient     = errors.New("rate limiter has no redis client")
	ErrInvalidLimit = errors.New("rate limit needs a key, a positive rate and a positive burst")
)

// Limit refills Rate tokens per second up to Burst.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// idleTTL keeps a bucket around for twice the time it takes to refill.
func (l Limit) idleTTL() time.Duration {
	seconds := math.Ceil(float64(l.Burst) / l.Rate * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}

type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
	// Reason names the refusing bucket; empty when allowed.
	Reason string
}

// Bucket is a redis token bucket shared by every API replica.
type Bucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewBucket(client redis.Scripter) *Bucket {
	if client == nil {
		return nil
	}
	return &Bucket{client: client, script: redis.NewScript(takeScript)}
}

// Take removes one token from key's bucket if one is available.
func (b *Bucket) Take(ctx context.Context, key string, limit Limit) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, ErrNoClient
	}
	if key == "" || !limit.valid() {
		return Decision{}, ErrInvalidLimit
	}

	// rate is passed per millisecond in millitokens, which is the same number.
	res, err := b.script.Run(ctx, b.client, []string{key},
		limit.Rate,
		limit.Burst,
		limit.idleTTL().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 2 {
		return Decision{}, errors.New("unexpected token bucket reply")
	}

	remaining := float64(res[1]) / 1000
	decision := Decision{Allowed: res[0] == 1, Remaining: remaining}
	if !decision.Allowed {
		missing := 1 - remaining
		decision.RetryAfter = time.Duration(missing / limit.Rate * float64(time.Second))
	}
	return decision, nil
}
