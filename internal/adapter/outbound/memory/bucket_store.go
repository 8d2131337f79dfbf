// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
)

// shardCount is the number of lock shards. Must be a power of two.
const shardCount = 32

// defaultGrace is how long a bucket lingers past its window before its
// scheduled deletion fires. Expired buckets are recycled in place on
// the next touch, so the grace only bounds memory, never correctness.
const defaultGrace = time.Second

// bucket is one fixed window for one key.
type bucket struct {
	count   int
	resetAt time.Time
	timer   *time.Timer
}

// bucketShard holds a slice of the keyspace under its own lock.
type bucketShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// MemoryBucketStore implements ratelimit.BucketStore with a sharded map.
// Thread-safe for concurrent access. Each fresh window schedules its own
// deletion timer, so no sweep goroutine is needed to bound memory.
type MemoryBucketStore struct {
	shards [shardCount]*bucketShard
	grace  time.Duration
	once   sync.Once
}

// NewBucketStore creates a new in-memory bucket store with the default
// deletion grace.
func NewBucketStore() *MemoryBucketStore {
	return NewBucketStoreWithGrace(defaultGrace)
}

// NewBucketStoreWithGrace creates a new in-memory bucket store whose
// scheduled deletions fire the given grace after each window ends.
func NewBucketStoreWithGrace(grace time.Duration) *MemoryBucketStore {
	s := &MemoryBucketStore{grace: grace}
	for i := range s.shards {
		s.shards[i] = &bucketShard{buckets: make(map[string]*bucket)}
	}
	return s
}

func (s *MemoryBucketStore) shardFor(key string) *bucketShard {
	return s.shards[xxhash.Sum64String(key)&(shardCount-1)]
}

// Incr increments the bucket at key, starting a fresh window of the
// given span when the key is absent or its window has elapsed.
func (s *MemoryBucketStore) Incr(_ context.Context, key string, span time.Duration) (int, time.Time, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	b, ok := sh.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		if ok && b.timer != nil {
			b.timer.Stop()
		}
		b = &bucket{resetAt: now.Add(span)}
		b.timer = s.scheduleDelete(sh, key, b.resetAt, span+s.grace)
		sh.buckets[key] = b
	}
	b.count++
	return b.count, b.resetAt, nil
}

// scheduleDelete arms a timer that removes the bucket once its window
// plus the grace has passed. The resetAt guard keeps a stale timer from
// deleting a newer window that recycled the same key.
func (s *MemoryBucketStore) scheduleDelete(sh *bucketShard, key string, resetAt time.Time, after time.Duration) *time.Timer {
	return time.AfterFunc(after, func() {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		if b, ok := sh.buckets[key]; ok && b.resetAt.Equal(resetAt) {
			delete(sh.buckets, key)
		}
	})
}

// Decr decrements the bucket at key, clamped at zero. Missing or
// expired buckets are a no-op, and the window's reset time never moves.
func (s *MemoryBucketStore) Decr(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if b, ok := sh.buckets[key]; ok && time.Now().Before(b.resetAt) && b.count > 0 {
		b.count--
	}
	return nil
}

// Delete removes the buckets for the given keys and stops their timers.
// Keys that do not exist are ignored.
func (s *MemoryBucketStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if b, ok := sh.buckets[key]; ok {
			if b.timer != nil {
				b.timer.Stop()
			}
			delete(sh.buckets, key)
		}
		sh.mu.Unlock()
	}
	return nil
}

// Stop drains every pending deletion timer and clears the store.
// Safe to call multiple times.
func (s *MemoryBucketStore) Stop() {
	s.once.Do(func() {
		for _, sh := range s.shards {
			sh.mu.Lock()
			for key, b := range sh.buckets {
				if b.timer != nil {
					b.timer.Stop()
				}
				delete(sh.buckets, key)
			}
			sh.mu.Unlock()
		}
	})
}

// Size returns the current number of tracked buckets.
// Useful for testing and monitoring memory usage.
func (s *MemoryBucketStore) Size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n
}

// Compile-time interface verification.
var _ ratelimit.BucketStore = (*MemoryBucketStore)(nil)
