package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBucketStore is an in-memory BucketStore with fault injection.
type fakeBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*fakeBucket
	deleted []string

	incrErr error
	decrErr error
}

type fakeBucket struct {
	count   int
	resetAt time.Time
}

func newFakeBucketStore() *fakeBucketStore {
	return &fakeBucketStore{buckets: make(map[string]*fakeBucket)}
}

// Compile-time interface check.
var _ BucketStore = (*fakeBucketStore)(nil)

func (s *fakeBucketStore) Incr(_ context.Context, key string, span time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.incrErr != nil {
		return 0, time.Time{}, s.incrErr
	}
	now := time.Now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &fakeBucket{resetAt: now.Add(span)}
		s.buckets[key] = b
	}
	b.count++
	return b.count, b.resetAt, nil
}

func (s *fakeBucketStore) Decr(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decrErr != nil {
		return s.decrErr
	}
	if b, ok := s.buckets[key]; ok && b.count > 0 {
		b.count--
	}
	return nil
}

func (s *fakeBucketStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.buckets, k)
		s.deleted = append(s.deleted, k)
	}
	return nil
}

func (s *fakeBucketStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[key]
	return ok
}

func (s *fakeBucketStore) deletedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFixedWindowLimiter_AdmitWithinLimit(t *testing.T) {
	t.Parallel()

	store := newFakeBucketStore()
	limiter := NewFixedWindowLimiter(store, discardLogger())
	w := Window{Max: 3, Span: time.Minute}

	for i, wantRemaining := range []int{2, 1, 0} {
		d, err := limiter.Admit(context.Background(), "general", "cli-1", w)
		if err != nil {
			t.Fatalf("Admit %d returned error: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("Admit %d: expected admission", i+1)
		}
		if d.Remaining != wantRemaining {
			t.Errorf("Admit %d: Remaining = %d, want %d", i+1, d.Remaining, wantRemaining)
		}
		if d.Limit != 3 {
			t.Errorf("Admit %d: Limit = %d, want 3", i+1, d.Limit)
		}
		if d.ResetAt.IsZero() {
			t.Errorf("Admit %d: ResetAt not set", i+1)
		}
	}
}

func TestFixedWindowLimiter_DeniesOverLimit(t *testing.T) {
	t.Parallel()

	store := newFakeBucketStore()
	limiter := NewFixedWindowLimiter(store, discardLogger())
	w := Window{Max: 2, Span: 30 * time.Second}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := limiter.Admit(ctx, "general", "cli-1", w); !d.Allowed {
			t.Fatalf("expected request %d to be admitted", i+1)
		}
	}

	d, err := limiter.Admit(ctx, "general", "cli-1", w)
	if err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denial over the limit")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	if d.RetryAfter < time.Second || d.RetryAfter > 30*time.Second {
		t.Errorf("RetryAfter = %v, want between 1s and 30s", d.RetryAfter)
	}

	// Denied requests keep counting; the bucket does not drop back
	// under its limit until the window resets.
	d2, _ := limiter.Admit(ctx, "general", "cli-1", w)
	if d2.Allowed {
		t.Fatal("expected continued denial within the same window")
	}
	if !d2.ResetAt.Equal(d.ResetAt) {
		t.Errorf("ResetAt changed across denials: %v vs %v", d2.ResetAt, d.ResetAt)
	}
}

func TestFixedWindowLimiter_WindowReset(t *testing.T) {
	t.Parallel()

	store := newFakeBucketStore()
	limiter := NewFixedWindowLimiter(store, discardLogger())
	w := Window{Max: 1, Span: 50 * time.Millisecond}
	ctx := context.Background()

	if d, _ := limiter.Admit(ctx, "general", "cli-1", w); !d.Allowed {
		t.Fatal("first request should be admitted")
	}
	if d, _ := limiter.Admit(ctx, "general", "cli-1", w); d.Allowed {
		t.Fatal("second request should be denied")
	}

	// Wait out the window; the next touch starts a fresh one.
	time.Sleep(80 * time.Millisecond)

	d, err := limiter.Admit(ctx, "general", "cli-1", w)
	if err != nil {
		t.Fatalf("Admit after reset returned error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected admission in the fresh window")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0 (fresh window, max 1)", d.Remaining)
	}
}

func TestFixedWindowLimiter_RetryAfterRounding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{name: "negative", in: -5 * time.Millisecond, want: time.Second},
		{name: "zero", in: 0, want: time.Second},
		{name: "sub second", in: 300 * time.Millisecond, want: time.Second},
		{name: "exact second", in: time.Second, want: time.Second},
		{name: "just over a second", in: 1001 * time.Millisecond, want: 2 * time.Second},
		{name: "fractional", in: 2500 * time.Millisecond, want: 3 * time.Second},
		{name: "whole minute", in: time.Minute, want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := retryAfter(tt.in); got != tt.want {
				t.Errorf("retryAfter(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFixedWindowLimiter_FailOpen(t *testing.T) {
	t.Parallel()

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	errDown := errors.New("store down")
	store := newFakeBucketStore()
	store.incrErr = errDown

	var failOpens int
	limiter := NewFixedWindowLimiter(store, logger, WithFailOpenHook(func() { failOpens++ }))

	d, err := limiter.Admit(context.Background(), "general", "cli-1", Window{Max: 5, Span: time.Minute})
	if !errors.Is(err, errDown) {
		t.Fatalf("expected the storage error to surface, got %v", err)
	}
	if !d.Allowed {
		t.Fatal("storage failure must admit the request")
	}
	if d.Remaining != -1 {
		t.Errorf("Remaining = %d, want -1 (quota unknown)", d.Remaining)
	}
	if d.Limit != 5 {
		t.Errorf("Limit = %d, want 5", d.Limit)
	}
	if failOpens != 1 {
		t.Errorf("fail-open hook called %d times, want 1", failOpens)
	}
	if !strings.Contains(logBuf.String(), "admitting request") {
		t.Errorf("expected a fail-open warning in logs, got: %s", logBuf.String())
	}
}

func TestFixedWindowLimiter_ToolAndCategoryBucketsIndependent(t *testing.T) {
	t.Parallel()

	store := newFakeBucketStore()
	limiter := NewFixedWindowLimiter(store, discardLogger())
	ctx := context.Background()
	w := Window{Max: 1, Span: time.Minute}

	if d, _ := limiter.AdmitTool(ctx, "warehouse_execute_query", "cli-1", w); !d.Allowed {
		t.Fatal("first tool request should be admitted")
	}
	if d, _ := limiter.AdmitTool(ctx, "warehouse_execute_query", "cli-1", w); d.Allowed {
		t.Fatal("second tool request should be denied")
	}

	// Exhausting the tool bucket must not touch the category bucket.
	if d, _ := limiter.Admit(ctx, "warehouse", "cli-1", w); !d.Allowed {
		t.Fatal("category request should be admitted independently")
	}

	if !store.has("ratelimit:tool:warehouse_execute_query:cli-1") {
		t.Error("expected a tool-tier key in the store")
	}
	if !store.has("ratelimit:cat:warehouse:cli-1") {
		t.Error("expected a category-tier key in the store")
	}
}

func TestFixedWindowLimiter_DecrementClampsAtZero(t *testing.T) {
	t.Parallel()

	store := newFakeBucketStore()
	limiter := NewFixedWindowLimiter(store, discardLogger())
	ctx := context.Background()
	w := Window{Max: 3, Span: time.Minute}

	first, err := limiter.Admit(ctx, "general", "cli-1", w)
	if err != nil || !first.Allowed {
		t.Fatalf("seed admit failed: allowed=%v err=%v", first.Allowed, err)
	}

	// Refund more than was ever counted; the bucket must clamp at zero
	// rather than go negative.
	for i := 0; i < 3; i++ {
		if err := limiter.Decrement(ctx, "general", "cli-1"); err != nil {
			t.Fatalf("Decrement %d returned error: %v", i+1, err)
		}
	}

	d, err := limiter.Admit(ctx, "general", "cli-1", w)
	if err != nil {
		t.Fatalf("Admit after refunds returned error: %v", err)
	}
	if d.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2 (count restarted from zero, not negative)", d.Remaining)
	}
	if !d.ResetAt.Equal(first.ResetAt) {
		t.Errorf("refunds must not reset the window: ResetAt %v, want %v", d.ResetAt, first.ResetAt)
	}

	// Refunding a client that has no bucket is a quiet no-op.
	if err := limiter.Decrement(ctx, "general", "cli-unknown"); err != nil {
		t.Errorf("Decrement on missing bucket returned error: %v", err)
	}
}

func TestFixedWindowLimiter_DecrementSurfacesStoreError(t *testing.T) {
	t.Parallel()

	errDown := errors.New("store down")
	store := newFakeBucketStore()
	store.decrErr = errDown
	limiter := NewFixedWindowLimiter(store, discardLogger())

	if err := limiter.Decrement(context.Background(), "general", "cli-1"); !errors.Is(err, errDown) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestFixedWindowLimiter_ResetClient(t *testing.T) {
	t.Parallel()

	store := newFakeBucketStore()
	limiter := NewFixedWindowLimiter(store, discardLogger(),
		WithKnownCategories([]string{"general", "warehouse"}),
		WithKnownTools([]string{"warehouse_execute_query"}),
	)
	ctx := context.Background()
	w := Window{Max: 10, Span: time.Minute}

	for _, clientID := range []string{"cli-1", "cli-2"} {
		limiter.Admit(ctx, "general", clientID, w)
		limiter.Admit(ctx, "warehouse", clientID, w)
		limiter.AdmitTool(ctx, "warehouse_execute_query", clientID, w)
	}

	// Single-category reset touches exactly one bucket.
	if err := limiter.ResetClient(ctx, "cli-1", "warehouse"); err != nil {
		t.Fatalf("ResetClient(category) returned error: %v", err)
	}
	if store.has("ratelimit:cat:warehouse:cli-1") {
		t.Error("warehouse bucket for cli-1 should be gone")
	}
	if !store.has("ratelimit:cat:general:cli-1") || !store.has("ratelimit:tool:warehouse_execute_query:cli-1") {
		t.Error("other cli-1 buckets must survive a single-category reset")
	}

	// Full reset sweeps every known category and tool bucket.
	if err := limiter.ResetClient(ctx, "cli-1", ""); err != nil {
		t.Fatalf("ResetClient(all) returned error: %v", err)
	}
	for _, key := range []string{
		"ratelimit:cat:general:cli-1",
		"ratelimit:cat:warehouse:cli-1",
		"ratelimit:tool:warehouse_execute_query:cli-1",
	} {
		if store.has(key) {
			t.Errorf("key %s should be gone after a full reset", key)
		}
	}

	// The other client's buckets are untouched.
	for _, key := range []string{
		"ratelimit:cat:general:cli-2",
		"ratelimit:cat:warehouse:cli-2",
		"ratelimit:tool:warehouse_execute_query:cli-2",
	} {
		if !store.has(key) {
			t.Errorf("key %s must survive another client's reset", key)
		}
	}
}

func TestFixedWindowLimiter_ResetClientWithoutKnownKeys(t *testing.T) {
	t.Parallel()

	store := newFakeBucketStore()
	limiter := NewFixedWindowLimiter(store, discardLogger())

	if err := limiter.ResetClient(context.Background(), "cli-1", ""); err != nil {
		t.Fatalf("ResetClient returned error: %v", err)
	}
	if got := store.deletedKeys(); len(got) != 0 {
		t.Errorf("expected no delete calls, got %v", got)
	}
}

func TestFormatKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     KeyKind
		resource string
		clientID string
		want     string
	}{
		{
			name:     "category",
			kind:     KeyKindCategory,
			resource: "warehouse",
			clientID: "cli-1",
			want:     "ratelimit:cat:warehouse:cli-1",
		},
		{
			name:     "tool",
			kind:     KeyKindTool,
			resource: "sheets_append_row",
			clientID: "svc@example.com",
			want:     "ratelimit:tool:sheets_append_row:svc@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatKey(tt.kind, tt.resource, tt.clientID); got != tt.want {
				t.Errorf("FormatKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
