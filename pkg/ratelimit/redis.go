package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingScript prunes the key's window, counts what remains, and records
// the call only when it is admitted. ARGV: now-millis, window-millis, limit.
var slidingScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
  return {0, count}
end
redis.call("ZADD", KEYS[1], now, tostring(now) .. "-" .. tostring(count))
redis.call("PEXPIRE", KEYS[1], window)
return {1, count + 1}
`)

// RedisLimiter shares one sliding window across processes. On any Redis
// error it falls back to the in-process window rather than failing open.
type RedisLimiter struct {
	Client   *redis.Client
	Window   time.Duration
	Prefix   string
	Fallback *SlidingWindow
}

func NewRedis(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		Client:   client,
		Window:   window,
		Prefix:   "aerogate:rl:",
		Fallback: NewSlidingWindow(window),
	}
}

func (l *RedisLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	if l.Client == nil {
		return l.Fallback.Allow(key, limit)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	nowMs := time.Now().UTC().UnixMilli()
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(l.Window.Milliseconds(), 10),
		strconv.Itoa(limit),
	).Result()
	if err != nil {
		return l.Fallback.Allow(key, limit)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.Fallback.Allow(key, limit)
	}
	admitted, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   admitted == 1,
		Count:     int(count),
		Limit:     limit,
		Remaining: remaining,
	}
}
