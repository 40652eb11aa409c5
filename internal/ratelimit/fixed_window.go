package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Returns {count, pttl} for the current window slot.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// FixedWindowLimiter limits calls per key in a fixed time window shared
// through Redis.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	prefix string
	client redis.UniversalClient
	owned  bool
	now    func() time.Time
}

// NewFixedWindowLimiter builds a limiter on an existing Redis client.
func NewFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "booklend:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		prefix: prefix,
		client: client,
		now:    time.Now,
	}, nil
}

// NewRedisFixedWindowLimiter dials Redis at addr and owns the connection.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	l, err := NewFixedWindowLimiter(redis.NewClient(&redis.Options{Addr: addr, Password: password}), prefix, limit, window)
	if err != nil {
		return nil, err
	}
	l.owned = true
	return l, nil
}

// Allow counts one call for key. Redis failures fail closed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{}, errors.New("rate limiter is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64Slice()
	if err != nil {
		return Decision{RetryAfter: l.window}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{RetryAfter: l.window}, fmt.Errorf("rate limit %s: unexpected script reply %v", key, res)
	}
	count, pttl := res[0], res[1]
	if count <= int64(l.limit) {
		return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
	}
	retry := time.Duration(pttl) * time.Millisecond
	if retry <= 0 {
		retry = l.window
	}
	return Decision{RetryAfter: retry}, nil
}

// Close releases the Redis connection when the limiter dialed it.
func (l *FixedWindowLimiter) Close() error {
	if l == nil || !l.owned {
		return nil
	}
	return l.client.Close()
}
