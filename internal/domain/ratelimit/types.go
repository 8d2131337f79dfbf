// Package ratelimit provides fixed-window rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// Window defines the parameters of a fixed rate limit window.
type Window struct {
	// Max is the number of requests admitted per window.
	Max int

	// Span is the length of the window.
	Span time.Duration
}

// Decision contains the result of a rate limit check.
type Decision struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the window's request budget.
	Limit int

	// Remaining is the number of requests left in the current window.
	// A value of -1 means the quota could not be consulted and the
	// request was admitted without a check.
	Remaining int

	// ResetAt is when the current window ends and the count restarts.
	ResetAt time.Time

	// RetryAfter is the duration until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// KeyKind identifies the tier of a rate limit key.
type KeyKind string

const (
	// KeyKindCategory is for category-tier rate limiting.
	KeyKindCategory KeyKind = "cat"

	// KeyKindTool is for per-tool rate limiting.
	KeyKindTool KeyKind = "tool"
)

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{kind}:{name}:{clientID}"
// Examples:
//   - FormatKey(KeyKindCategory, "warehouse", "cli-1") -> "ratelimit:cat:warehouse:cli-1"
//   - FormatKey(KeyKindTool, "sheets_append_row", "cli-1") -> "ratelimit:tool:sheets_append_row:cli-1"
func FormatKey(kind KeyKind, name, clientID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, kind, name, clientID)
}
