// Package ratelimit keeps per-key sliding-window counters in redis so every
// server process sees the same counts.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Rule is a request budget: at most Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// slidingWindow trims entries older than the window, rejects when the
// remaining count has reached the limit, and otherwise records the request.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
if redis.call('ZCARD', key) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('PEXPIRE', key, ARGV[5])
return 1
`)

// RedisWindow is a Limiter backed by one sorted set per key.
type RedisWindow struct {
	rdb    redis.Scripter
	rule   Rule
	prefix string
	now    func() time.Time
}

func NewRedisWindow(rdb redis.Scripter, scope string, rule Rule) *RedisWindow {
	return &RedisWindow{rdb: rdb, rule: rule, prefix: "ratelimit:" + scope + ":", now: time.Now}
}

func (w *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	if w.rule.Limit <= 0 {
		return true, nil
	}
	now := w.now().UnixMilli()
	window := w.rule.Window.Milliseconds()
	res, err := slidingWindow.Run(ctx, w.rdb, []string{w.prefix + key},
		now, now-window, w.rule.Limit, uuid.NewString(), window).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return res == 1, nil
}
