package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InFlightGate serializes submissions per session: while one message is being
// processed the session is busy and further submissions are rejected. The TTL
// bounds the lock in case a process dies mid-turn.
type InFlightGate struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewInFlightGate(rdb *redis.Client, ttl time.Duration) *InFlightGate {
	return &InFlightGate{redis: rdb, ttl: ttl}
}

func (g *InFlightGate) key(sessionID string) string {
	return fmt.Sprintf("dataloom:inflight:%s", sessionID)
}

func (g *InFlightGate) Acquire(ctx context.Context, sessionID string) (bool, error) {
	ok, err := g.redis.SetNX(ctx, g.key(sessionID), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("inflight setnx: %w", err)
	}
	return ok, nil
}

func (g *InFlightGate) Release(ctx context.Context, sessionID string) error {
	return g.redis.Del(ctx, g.key(sessionID)).Err()
}
