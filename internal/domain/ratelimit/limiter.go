package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Limiter is the interface for admission-time rate limit checks.
//
// Implementations use a fixed window rather than a sliding window or
// token bucket: the first request in a window fixes the reset time, and
// the count restarts from zero once the window elapses. A fixed window
// admits up to a double burst across a window boundary; the trade is
// O(1) state per key and a single atomic increment on the hot path.
//
// The interface is designed to be storage-agnostic, allowing
// implementations backed by Redis, in-memory stores, or other backends.
type Limiter interface {
	// Admit checks the category-tier window for clientID.
	Admit(ctx context.Context, category, clientID string, w Window) (Decision, error)

	// AdmitTool checks the per-tool window for clientID.
	AdmitTool(ctx context.Context, toolName, clientID string, w Window) (Decision, error)

	// Decrement refunds one request from the category-tier bucket, used
	// when the work a request was admitted for did not happen. The
	// count is clamped at zero and the window is never reset.
	Decrement(ctx context.Context, category, clientID string) error

	// ResetClient removes the client's bucket for one category, or
	// every bucket the limiter knows about when category is empty.
	ResetClient(ctx context.Context, clientID, category string) error
}

// FixedWindowLimiter implements Limiter over a pluggable BucketStore.
//
// Storage failures never block admission: the limiter logs a warning
// and admits the request (fail-open), returning the storage error
// alongside the decision so callers can still record it.
type FixedWindowLimiter struct {
	store      BucketStore
	logger     *slog.Logger
	categories []string
	tools      []string
	failOpen   func()
}

// Option configures a FixedWindowLimiter.
type Option func(*FixedWindowLimiter)

// WithKnownCategories sets the category names swept by a full ResetClient.
func WithKnownCategories(categories []string) Option {
	return func(l *FixedWindowLimiter) {
		l.categories = categories
	}
}

// WithKnownTools sets the tool names swept by a full ResetClient.
func WithKnownTools(tools []string) Option {
	return func(l *FixedWindowLimiter) {
		l.tools = tools
	}
}

// WithFailOpenHook registers a callback invoked whenever a storage
// error causes a request to be admitted without a quota check.
func WithFailOpenHook(fn func()) Option {
	return func(l *FixedWindowLimiter) {
		l.failOpen = fn
	}
}

// NewFixedWindowLimiter creates a limiter backed by store.
func NewFixedWindowLimiter(store BucketStore, logger *slog.Logger, opts ...Option) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Compile-time interface check.
var _ Limiter = (*FixedWindowLimiter)(nil)

// Admit checks the category-tier window for clientID.
func (l *FixedWindowLimiter) Admit(ctx context.Context, category, clientID string, w Window) (Decision, error) {
	return l.admit(ctx, FormatKey(KeyKindCategory, category, clientID), w)
}

// AdmitTool checks the per-tool window for clientID.
func (l *FixedWindowLimiter) AdmitTool(ctx context.Context, toolName, clientID string, w Window) (Decision, error) {
	return l.admit(ctx, FormatKey(KeyKindTool, toolName, clientID), w)
}

func (l *FixedWindowLimiter) admit(ctx context.Context, key string, w Window) (Decision, error) {
	count, resetAt, err := l.store.Incr(ctx, key, w.Span)
	if err != nil {
		if l.failOpen != nil {
			l.failOpen()
		}
		l.logger.Warn("rate limit store unavailable, admitting request",
			"key", key,
			"error", err,
		)
		return Decision{Allowed: true, Limit: w.Max, Remaining: -1}, err
	}

	d := Decision{
		Limit:   w.Max,
		ResetAt: resetAt,
	}
	if count > w.Max {
		d.RetryAfter = retryAfter(time.Until(resetAt))
		return d, nil
	}
	d.Allowed = true
	d.Remaining = w.Max - count
	return d, nil
}

// Decrement refunds one request from the category-tier bucket.
func (l *FixedWindowLimiter) Decrement(ctx context.Context, category, clientID string) error {
	key := FormatKey(KeyKindCategory, category, clientID)
	if err := l.store.Decr(ctx, key); err != nil {
		l.logger.Warn("rate limit refund failed",
			"key", key,
			"error", err,
		)
		return err
	}
	return nil
}

// ResetClient removes the client's bucket for one category, or every
// known category and tool bucket when category is empty.
func (l *FixedWindowLimiter) ResetClient(ctx context.Context, clientID, category string) error {
	if category != "" {
		return l.store.Delete(ctx, FormatKey(KeyKindCategory, category, clientID))
	}

	keys := make([]string, 0, len(l.categories)+len(l.tools))
	for _, c := range l.categories {
		keys = append(keys, FormatKey(KeyKindCategory, c, clientID))
	}
	for _, t := range l.tools {
		keys = append(keys, FormatKey(KeyKindTool, t, clientID))
	}
	if len(keys) == 0 {
		return nil
	}
	return l.store.Delete(ctx, keys...)
}

// retryAfter rounds d up to whole seconds with a one second floor, so
// denial responses never advertise a zero retry interval.
func retryAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
