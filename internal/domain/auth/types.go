// Package auth contains the domain types and logic for bearer-token
// authentication.
package auth

import (
	"strings"
	"time"
)

// Claims is the parsed content of a structurally valid bearer token.
type Claims struct {
	// Issuer is the iss claim; empty when absent.
	Issuer string
	// Subject is the sub claim; empty when absent.
	Subject string
	// Audience is the aud claim normalized to a set. A bare string
	// becomes a single-element slice.
	Audience []string
	// ExpiresAt is the exp claim; zero when absent.
	ExpiresAt time.Time
	// NotBefore is the nbf claim; zero when absent.
	NotBefore time.Time
	// IssuedAt is the iat claim; zero when absent.
	IssuedAt time.Time
	// ClientID is the client_id claim; empty when absent.
	ClientID string
	// Scope is the raw space-separated scope claim.
	Scope string
	// Raw holds every decoded claim, for callers that need
	// non-standard fields.
	Raw map[string]any
}

// Scopes splits the scope claim into individual scope strings.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasScope returns true if the scope claim contains the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// HasAudience returns true if the audience set contains the given value.
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// RateKey returns the identifier used to key per-client rate buckets:
// the client_id claim when present, otherwise the subject.
func (c *Claims) RateKey() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return c.Subject
}
