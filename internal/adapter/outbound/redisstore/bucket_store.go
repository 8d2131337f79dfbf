// Package redisstore provides a Redis-backed bucket store for the
// fixed-window rate limiter.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
)

// defaultTimeout bounds every Redis round trip so a slow store is
// treated as a failed store rather than stalling admission.
const defaultTimeout = 2 * time.Second

// incrScript atomically increments a window counter, arming the key's
// expiry only when it is fresh so the window end stays fixed. PTTL is
// returned so callers can reconstruct the absolute reset time.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// decrScript refunds one request without letting the counter go
// negative and without touching the key's expiry.
var decrScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) > 0 then
  redis.call("DECR", KEYS[1])
end
return 0
`)

// BucketStore implements ratelimit.BucketStore on a Redis client.
// The counter lives exactly as long as its window via key expiry, so an
// absent key is a fresh window by definition and no sweeper is needed.
type BucketStore struct {
	client  *redis.Client
	timeout time.Duration
}

// Option configures a BucketStore.
type Option func(*BucketStore)

// WithTimeout overrides the per-operation Redis timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *BucketStore) {
		s.timeout = d
	}
}

// NewBucketStore creates a Redis-backed bucket store.
func NewBucketStore(client *redis.Client, opts ...Option) *BucketStore {
	s := &BucketStore{
		client:  client,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Incr increments the bucket at key, starting a fresh window of the
// given span when the key is absent.
func (s *BucketStore) Incr(ctx context.Context, key string, span time.Duration) (int, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := incrScript.Run(ctx, s.client, []string{key}, span.Milliseconds()).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: %w", key, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: unexpected script reply %T", key, res)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		// PTTL reports a negative value for keys without expiry, which
		// can happen when a PEXPIRE was lost. Treat the window as
		// starting now so the counter still converges.
		ttlMs = span.Milliseconds()
	}
	return int(count), time.Now().Add(time.Duration(ttlMs) * time.Millisecond), nil
}

// Decr decrements the bucket at key, clamped at zero. Missing keys are
// a no-op.
func (s *BucketStore) Decr(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := decrScript.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("redis decr %s: %w", key, err)
	}
	return nil
}

// Delete removes the buckets for the given keys.
func (s *BucketStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ ratelimit.BucketStore = (*BucketStore)(nil)
