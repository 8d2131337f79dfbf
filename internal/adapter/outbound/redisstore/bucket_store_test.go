package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*BucketStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBucketStore(client), mr
}

func TestRedisBucketStore_IncrFreshWindow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	before := time.Now()
	count, resetAt, err := store.Incr(ctx, "ratelimit:cat:general:cli-1", time.Minute)
	if err != nil {
		t.Fatalf("Incr() error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if !resetAt.After(before) || resetAt.After(before.Add(time.Minute+time.Second)) {
		t.Errorf("resetAt = %v, want within the minute after %v", resetAt, before)
	}

	count, _, err = store.Incr(ctx, "ratelimit:cat:general:cli-1", time.Minute)
	if err != nil {
		t.Fatalf("Incr() error: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestRedisBucketStore_WindowExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	span := time.Second
	for i := 0; i < 3; i++ {
		if _, _, err := store.Incr(ctx, "expiry-key", span); err != nil {
			t.Fatalf("Incr() %d error: %v", i+1, err)
		}
	}

	// Advance past the window; Redis expires the key on its own.
	mr.FastForward(span + 100*time.Millisecond)

	count, _, err := store.Incr(ctx, "expiry-key", span)
	if err != nil {
		t.Fatalf("Incr() after expiry error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (fresh window after expiry)", count)
	}
}

func TestRedisBucketStore_ExpiryFixedAtWindowStart(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	span := time.Second
	if _, _, err := store.Incr(ctx, "fixed-key", span); err != nil {
		t.Fatalf("Incr() error: %v", err)
	}

	// A later increment must not push the expiry out.
	mr.FastForward(600 * time.Millisecond)
	if count, _, _ := store.Incr(ctx, "fixed-key", span); count != 2 {
		t.Fatal("expected the second increment to land in the same window")
	}
	mr.FastForward(500 * time.Millisecond)

	// 1.1s after creation the key is gone even though the second
	// increment landed 600ms in.
	count, _, err := store.Incr(ctx, "fixed-key", span)
	if err != nil {
		t.Fatalf("Incr() error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (window end must not move on increments)", count)
	}
}

func TestRedisBucketStore_Decr(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.Incr(ctx, "refund-key", time.Minute)
	store.Incr(ctx, "refund-key", time.Minute)

	ttlBefore := mr.TTL("refund-key")
	if err := store.Decr(ctx, "refund-key"); err != nil {
		t.Fatalf("Decr() error: %v", err)
	}
	if ttlAfter := mr.TTL("refund-key"); ttlAfter != ttlBefore {
		t.Errorf("Decr changed the TTL: %v -> %v", ttlBefore, ttlAfter)
	}
	if count, _, _ := store.Incr(ctx, "refund-key", time.Minute); count != 2 {
		t.Errorf("count after refund = %d, want 2", count)
	}

	// Refunding more than was counted clamps at zero.
	for i := 0; i < 5; i++ {
		if err := store.Decr(ctx, "refund-key"); err != nil {
			t.Fatalf("Decr() %d error: %v", i+1, err)
		}
	}
	if count, _, _ := store.Incr(ctx, "refund-key", time.Minute); count != 1 {
		t.Errorf("count after clamp = %d, want 1", count)
	}

	// Refunding a missing key is a quiet no-op.
	if err := store.Decr(ctx, "never-seen"); err != nil {
		t.Errorf("Decr() on missing key error: %v", err)
	}
}

func TestRedisBucketStore_Delete(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"del-1", "del-2", "del-3"} {
		store.Incr(ctx, key, time.Minute)
	}

	if err := store.Delete(ctx, "del-1", "del-2", "no-such-key"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if mr.Exists("del-1") || mr.Exists("del-2") {
		t.Error("deleted keys should be gone")
	}
	if !mr.Exists("del-3") {
		t.Error("untouched key should survive")
	}

	// Deleting nothing is a no-op, not an error.
	if err := store.Delete(ctx); err != nil {
		t.Errorf("Delete() with no keys error: %v", err)
	}
}

func TestRedisBucketStore_UnreachableServer(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	mr.Close()

	if _, _, err := store.Incr(ctx, "down-key", time.Minute); err == nil {
		t.Error("Incr() against a dead server should error")
	}
	if err := store.Decr(ctx, "down-key"); err == nil {
		t.Error("Decr() against a dead server should error")
	}
	if err := store.Delete(ctx, "down-key"); err == nil {
		t.Error("Delete() against a dead server should error")
	}
}

func TestRedisBucketStore_UnexpectedScriptReply(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	originalScript := incrScript
	incrScript = redis.NewScript(`return "bad-value"`)
	defer func() { incrScript = originalScript }()

	if _, _, err := store.Incr(ctx, "bad-reply-key", time.Minute); err == nil {
		t.Error("Incr() should surface a malformed script reply as an error")
	}
}
