package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript is the same transition as step, run atomically inside Redis.
// Times are unix milliseconds; blocked_until of 0 means not blocked.
var checkScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local multiplier = tonumber(ARGV[5])

local vals = redis.call('HMGET', key, 'count', 'start', 'blocked_until')
local count = tonumber(vals[1]) or 0
local start = tonumber(vals[2]) or now
local blocked_until = tonumber(vals[3]) or 0

if now - start > window then
  count = 0
  start = now
  blocked_until = 0
end

local function retry_after()
  local reset = start + window + 1
  if blocked_until < reset then
    return blocked_until - now
  end
  return reset - now
end

local allowed = 1
local retry = 0

if blocked_until > 0 then
  if now < blocked_until then
    allowed = 0
    retry = retry_after()
  else
    blocked_until = 0
    count = 0
    start = now
  end
end

if allowed == 1 then
  count = count + 1
  if count > max then
    allowed = 0
    blocked_until = now + multiplier * window
    retry = retry_after()
  end
end

redis.call('HSET', key, 'count', count, 'start', start, 'blocked_until', blocked_until)
redis.call('PEXPIRE', key, ttl)
return {allowed, retry}
`)

// RedisStore shares limiter records across instances through Redis
type RedisStore struct {
	rdb       redis.Scripter
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithRedisRetention sets the key expiry for idle identities
func WithRedisRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithRedisClock replaces the time source
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore creates a Redis backed store
func NewRedisStore(rdb redis.Scripter, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:       rdb,
		prefix:    "contact:ratelimit",
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check implements Limiter
func (s *RedisStore) Check(ctx context.Context, identity string, maxRequests int, window time.Duration) (Decision, error) {
	ttl := s.retention
	if floor := (BlockMultiplier + 1) * window; ttl < floor {
		ttl = floor
	}

	res, err := checkScript.Run(ctx, s.rdb,
		[]string{s.key(identity)},
		s.now().UnixMilli(),
		maxRequests,
		window.Milliseconds(),
		ttl.Milliseconds(),
		BlockMultiplier,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit check: unexpected reply length %d", len(res))
	}

	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}, nil
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + ":" + identity
}
