// Package ctxkey defines shared context key types used across multiple
// packages. It must not depend on other internal packages, so transports
// and services can share keys without import cycles.
package ctxkey

// LoggerKey is the context key type for the request-enriched logger.
// HTTP middleware stores a logger carrying the request_id field here.
type LoggerKey struct{}

// RequestIDKey is the context key type for the request correlation ID.
type RequestIDKey struct{}

// ClientIPKey is the context key type for the client's real IP, as
// resolved from proxy headers or the peer address. Rate limiting keys
// buckets on it when no authenticated subject is available.
type ClientIPKey struct{}

// ClaimsKey is the context key type for validated bearer-token claims.
// Set by the authentication middleware on success.
type ClaimsKey struct{}

// RawTokenKey is the context key type for the raw bearer token string
// extracted from the Authorization header.
type RawTokenKey struct{}
