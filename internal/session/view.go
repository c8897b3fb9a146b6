package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dataloom/internal/workspace"
)

// ViewState is the ephemeral per-session presentation state: the filters a
// confirmed search applied, cached alongside the session rather than the
// workspace so concurrent sessions do not fight over it.
type ViewState struct {
	Filters []workspace.Filter `json:"filters,omitempty"`
}

type ViewStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewViewStore(rdb *redis.Client, ttl time.Duration) *ViewStore {
	return &ViewStore{redis: rdb, ttl: ttl}
}

func (v *ViewStore) key(sessionID string) string {
	return fmt.Sprintf("dataloom:view:%s", sessionID)
}

func (v *ViewStore) Set(ctx context.Context, sessionID string, state ViewState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal view state: %w", err)
	}
	return v.redis.Set(ctx, v.key(sessionID), string(b), v.ttl).Err()
}

func (v *ViewStore) Get(ctx context.Context, sessionID string) (ViewState, error) {
	raw, err := v.redis.Get(ctx, v.key(sessionID)).Result()
	if err == redis.Nil {
		return ViewState{}, nil
	}
	if err != nil {
		return ViewState{}, fmt.Errorf("view get: %w", err)
	}
	var state ViewState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return ViewState{}, fmt.Errorf("decode view state: %w", err)
	}
	return state, nil
}

func (v *ViewStore) Clear(ctx context.Context, sessionID string) error {
	return v.redis.Del(ctx, v.key(sessionID)).Err()
}
