package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dataloom/internal/llm"
	"dataloom/internal/workspace"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestPendingSlotAtMostOne(t *testing.T) {
	rdb := newTestRedis(t)
	store := NewPendingStore(rdb, time.Hour)
	ctx := context.Background()

	first := llm.ToolCall{
		Name:                llm.ToolDeleteRecord,
		ConfirmationMessage: "Delete Acme?",
		Args:                llm.DeleteRecordArgs{RecordID: "r1"},
	}
	ok, err := store.Put(ctx, "s1", first)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !ok {
		t.Fatalf("first put should claim the slot")
	}

	second := llm.ToolCall{
		Name:                llm.ToolCreateRecord,
		ConfirmationMessage: "Add one?",
		Args:                llm.CreateRecordArgs{Record: map[string]any{"name": "X"}},
	}
	ok, err = store.Put(ctx, "s1", second)
	if err != nil {
		t.Fatalf("put#2: %v", err)
	}
	if ok {
		t.Fatalf("second put must not overwrite the pending slot")
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != llm.ToolDeleteRecord {
		t.Fatalf("slot should still hold the first proposal, got %+v", got)
	}
	args, ok2 := got.Args.(llm.DeleteRecordArgs)
	if !ok2 || args.RecordID != "r1" {
		t.Fatalf("args did not survive the round trip: %+v", got.Args)
	}

	if err := store.Clear(ctx, "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get after clear: %v", err)
	}
	if got != nil {
		t.Fatalf("slot should be empty after clear, got %+v", got)
	}
}

func TestInFlightGate(t *testing.T) {
	rdb := newTestRedis(t)
	gate := NewInFlightGate(rdb, time.Minute)
	ctx := context.Background()

	ok, err := gate.Acquire(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = gate.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire#2: %v", err)
	}
	if ok {
		t.Fatalf("session should be busy")
	}

	if err := gate.Release(ctx, "s1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = gate.Acquire(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, got ok=%v err=%v", ok, err)
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, 2)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	allowed, used, _, err := rl.Allow(context.Background(), "s1", now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "s1", now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "s1", now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}
}

func TestMessageDeduplicator(t *testing.T) {
	rdb := newTestRedis(t)
	d := NewMessageDeduplicator(rdb, time.Minute)
	ctx := context.Background()

	first, err := d.MarkFirst(ctx, "s1", "m1")
	if err != nil || !first {
		t.Fatalf("expected first delivery, got first=%v err=%v", first, err)
	}
	first, err = d.MarkFirst(ctx, "s1", "m1")
	if err != nil {
		t.Fatalf("markfirst#2: %v", err)
	}
	if first {
		t.Fatalf("duplicate delivery should be flagged")
	}

	if err := d.Forget(ctx, "s1", "m1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	first, err = d.MarkFirst(ctx, "s1", "m1")
	if err != nil {
		t.Fatalf("markfirst#3: %v", err)
	}
	if !first {
		t.Fatalf("forgotten id should be markable again")
	}
}

func TestViewStoreRoundTrip(t *testing.T) {
	rdb := newTestRedis(t)
	store := NewViewStore(rdb, time.Hour)
	ctx := context.Background()

	state, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if len(state.Filters) != 0 {
		t.Fatalf("fresh session should carry no filters, got %+v", state)
	}

	want := ViewState{Filters: []workspace.Filter{
		{ColumnID: "status", Operator: workspace.OpEquals, Value: "Todo"},
	}}
	if err := store.Set(ctx, "s1", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	state, err = store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(state.Filters) != 1 || state.Filters[0].ColumnID != "status" {
		t.Fatalf("unexpected state %+v", state)
	}
}
