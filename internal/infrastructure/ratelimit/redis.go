package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted-set member per accepted request,
// scored by its arrival time in milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, count, retry}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisLimiter is a sliding-window limiter shared by every server instance.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rate Rate) (Result, error) {
	now := l.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + key},
		now, rate.Period.Milliseconds(), rate.Limit, uuid.NewString()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("sliding window script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Result{}, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	retryMs, _ := vals[2].(int64)

	remaining := rate.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    allowed == 1,
		Limit:      rate.Limit,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}
