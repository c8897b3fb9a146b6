package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dataloom/internal/llm"
)

// PendingStore holds at most one proposed tool call per session. The slot is
// claimed with SETNX so a second proposal can never overwrite the first.
type PendingStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewPendingStore(rdb *redis.Client, ttl time.Duration) *PendingStore {
	return &PendingStore{redis: rdb, ttl: ttl}
}

func (p *PendingStore) key(sessionID string) string {
	return fmt.Sprintf("dataloom:pending:%s", sessionID)
}

// Put claims the session's pending slot. Returns false when a proposal is
// already parked there.
func (p *PendingStore) Put(ctx context.Context, sessionID string, call llm.ToolCall) (bool, error) {
	b, err := json.Marshal(call)
	if err != nil {
		return false, fmt.Errorf("marshal pending call: %w", err)
	}
	ok, err := p.redis.SetNX(ctx, p.key(sessionID), string(b), p.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("pending setnx: %w", err)
	}
	return ok, nil
}

func (p *PendingStore) Get(ctx context.Context, sessionID string) (*llm.ToolCall, error) {
	raw, err := p.redis.Get(ctx, p.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending get: %w", err)
	}
	var call llm.ToolCall
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		return nil, fmt.Errorf("decode pending call: %w", err)
	}
	return &call, nil
}

func (p *PendingStore) Clear(ctx context.Context, sessionID string) error {
	return p.redis.Del(ctx, p.key(sessionID)).Err()
}
