// Package ratelimiter provides the per-recipient sliding-window quota used by
// the alert mailer: at most maxPerHour sends in any contiguous hour and
// maxPerDay across any 24-hour window.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is the minimal port the mailer decorator consumes.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SlidingWindowLimiter keeps one Redis ZSET of send timestamps per key and
// evaluates both windows atomically in a Lua script.
type SlidingWindowLimiter struct {
	redis      redis.Scripter
	maxPerHour int
	maxPerDay  int
	script     *redis.Script
	seq        atomic.Int64
	now        func() time.Time
}

// Atomically: trim entries older than 24h, count day and hour windows, and
// record the new event only when both ceilings hold.
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local max_hour = tonumber(ARGV[2])
local max_day = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - 86400)

local day_count = redis.call("ZCARD", key)
local hour_count = redis.call("ZCOUNT", key, now - 3600, "+inf")

if day_count >= max_day or hour_count >= max_hour then
  return 0
end

redis.call("ZADD", key, now, member)
redis.call("EXPIRE", key, 86400)
return 1
`

// New constructs a limiter over the given Redis client.
func New(rdb redis.Scripter, maxPerHour, maxPerDay int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:      rdb,
		maxPerHour: maxPerHour,
		maxPerDay:  maxPerDay,
		script:     redis.NewScript(luaSlidingWindow),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test hook.
func (l *SlidingWindowLimiter) WithClock(now func() time.Time) *SlidingWindowLimiter {
	l.now = now
	return l
}

// Allow records one send for key if both windows have room. Fails open on
// Redis errors so an observability outage cannot silence alerting.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.redis == nil {
		return true, nil
	}
	now := l.now()
	nowSec := float64(now.UnixNano()) / 1e9
	member := fmt.Sprintf("%d-%d", now.UnixNano(), l.seq.Add(1))

	res, err := l.script.Run(ctx, l.redis, []string{"email-rate:" + key},
		nowSec, l.maxPerHour, l.maxPerDay, member).Result()
	if err != nil {
		slog.Error("rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, err
	}
	n, ok := res.(int64)
	if !ok {
		slog.Error("rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, nil
	}
	return n == 1, nil
}
