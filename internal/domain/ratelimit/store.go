package ratelimit

import (
	"context"
	"time"
)

// BucketStore is the storage port for fixed-window buckets.
//
// Implementations must apply operations on the same key atomically with
// respect to concurrent callers, and must not serialize unrelated keys
// behind a single lock on the hot path.
type BucketStore interface {
	// Incr increments the bucket at key and returns the post-increment
	// count together with the window's reset time. When the key is
	// absent or its window has elapsed, the store starts a fresh window
	// of the given span before counting the request.
	Incr(ctx context.Context, key string, span time.Duration) (count int, resetAt time.Time, err error)

	// Decr decrements the bucket at key, clamped at zero. Missing or
	// expired buckets are a no-op. Decr never changes the window's
	// reset time.
	Decr(ctx context.Context, key string) error

	// Delete removes the buckets for the given keys. Keys that do not
	// exist are ignored.
	Delete(ctx context.Context, keys ...string) error
}
