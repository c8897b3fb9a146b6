package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter bounds model submissions per session to a fixed hourly window.
type RateLimiter struct {
	redis *redis.Client
	limit int64
}

func NewRateLimiter(rdb *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: limit}
}

func (r *RateLimiter) Allow(ctx context.Context, sessionID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("dataloom:ratelimit:%s:%s", sessionID, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// MessageDeduplicator drops duplicate client deliveries of the same message.
type MessageDeduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewMessageDeduplicator(rdb *redis.Client, ttl time.Duration) *MessageDeduplicator {
	return &MessageDeduplicator{redis: rdb, ttl: ttl}
}

func (d *MessageDeduplicator) MarkFirst(ctx context.Context, sessionID, messageID string) (bool, error) {
	ok, err := d.redis.SetNX(ctx, d.key(sessionID, messageID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}

// Forget releases a marked message id so a rejected submission can be
// retried with the same id.
func (d *MessageDeduplicator) Forget(ctx context.Context, sessionID, messageID string) error {
	return d.redis.Del(ctx, d.key(sessionID, messageID)).Err()
}

func (d *MessageDeduplicator) key(sessionID, messageID string) string {
	return fmt.Sprintf("dataloom:msg:%s:%s", sessionID, messageID)
}
