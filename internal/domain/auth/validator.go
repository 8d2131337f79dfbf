package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for token validation failures. The transport layer
// maps these to 401 responses with a matching error_description.
var (
	// ErrMissingToken is returned when no token string is supplied.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrMalformedToken is returned when the token does not split into
	// three dot-separated base64url JSON segments.
	ErrMalformedToken = errors.New("malformed token")
	// ErrTokenExpired is returned when the exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenNotYetValid is returned when the nbf claim is in the future.
	ErrTokenNotYetValid = errors.New("token not yet valid")
	// ErrTokenTooOld is returned when the iat claim is older than the
	// configured maximum token age, regardless of expiry.
	ErrTokenTooOld = errors.New("token too old")
	// ErrAudienceMismatch is returned when audience binding is required
	// and the expected audience is absent from the aud claim.
	ErrAudienceMismatch = errors.New("audience mismatch")
	// ErrSignatureInvalid is returned when an installed SignatureVerifier
	// rejects the token.
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// SignatureVerifier checks a token's cryptographic signature.
//
// The base Validator performs structural and claims validation only and
// does NOT verify signatures; that is a deliberate, documented limitation
// of the default deployment mode. Installing a verifier upgrades
// validation to include the signature check.
type SignatureVerifier interface {
	Verify(ctx context.Context, rawToken string) error
}

// Validator parses bearer tokens and enforces expiry, not-before,
// issued-at age, and audience binding. Thread-safe.
type Validator struct {
	audience        string
	requireAudience bool
	maxTokenAge     time.Duration
	verifier        SignatureVerifier
	cache           *TokenCache
	parser          *jwt.Parser
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithRequiredAudience makes validation reject tokens whose aud claim
// does not contain the given value (the server's canonical resource URI).
func WithRequiredAudience(aud string) ValidatorOption {
	return func(v *Validator) {
		v.audience = aud
		v.requireAudience = aud != ""
	}
}

// WithMaxTokenAge rejects tokens issued more than d ago. Zero disables
// the age check.
func WithMaxTokenAge(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.maxTokenAge = d
	}
}

// WithSignatureVerifier installs a signature verifier that runs after
// the structural and claims checks pass.
func WithSignatureVerifier(sv SignatureVerifier) ValidatorOption {
	return func(v *Validator) {
		v.verifier = sv
	}
}

// WithCache caches successful validations in the given cache.
func WithCache(c *TokenCache) ValidatorOption {
	return func(v *Validator) {
		v.cache = c
	}
}

// NewValidator creates a Validator. With no options it accepts any
// structurally valid, unexpired token.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		parser: jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate parses and validates a raw bearer token, returning its claims.
//
// Checks run in a fixed order, failing on the first violation:
// presence, segment structure, expiry, not-before, issued-at age,
// audience, then the optional signature verifier. Successful results
// are cached; failures never are.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, ErrMissingToken
	}
	if strings.Count(rawToken, ".") != 2 {
		return nil, fmt.Errorf("%w: expected three dot-separated segments", ErrMalformedToken)
	}

	if v.cache != nil {
		if claims, ok := v.cache.Get(rawToken); ok {
			// The cache entry's own TTL already passed, but a token
			// must never outlive its exp claim through the cache.
			if !claims.ExpiresAt.IsZero() && time.Now().After(claims.ExpiresAt) {
				return nil, ErrTokenExpired
			}
			return claims, nil
		}
	}

	token, _, err := v.parser.ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedToken
	}
	claims, err := claimsFromMap(mapClaims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if err := v.checkClaims(claims); err != nil {
		return nil, err
	}

	if v.verifier != nil {
		if err := v.verifier.Verify(ctx, rawToken); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
	}

	if v.cache != nil {
		v.cache.Put(rawToken, claims)
	}
	return claims, nil
}

// checkClaims enforces the temporal and audience constraints.
// A token without an exp claim is not treated as expired; the age
// check covers stale long-lived tokens instead.
func (v *Validator) checkClaims(c *Claims) error {
	now := time.Now()
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return ErrTokenExpired
	}
	if !c.NotBefore.IsZero() && now.Before(c.NotBefore) {
		return ErrTokenNotYetValid
	}
	if v.maxTokenAge > 0 && !c.IssuedAt.IsZero() && now.Sub(c.IssuedAt) > v.maxTokenAge {
		return ErrTokenTooOld
	}
	if v.requireAudience && !c.HasAudience(v.audience) {
		return ErrAudienceMismatch
	}
	return nil
}

// SafeReason maps a validation error to a stable client-facing
// description. Anything outside the sentinel set collapses to a generic
// message so internal detail never reaches a response header.
func SafeReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing bearer token"
	case errors.Is(err, ErrMalformedToken):
		return "malformed token"
	case errors.Is(err, ErrTokenExpired):
		return "token expired"
	case errors.Is(err, ErrTokenNotYetValid):
		return "token not yet valid"
	case errors.Is(err, ErrTokenTooOld):
		return "token exceeds maximum age"
	case errors.Is(err, ErrAudienceMismatch):
		return "token audience does not match this resource"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature verification failed"
	default:
		return "invalid token"
	}
}

// claimsFromMap converts decoded MapClaims into the domain Claims type.
// Registered claims with the wrong type are rejected; absent claims
// leave zero values.
func claimsFromMap(mc jwt.MapClaims) (*Claims, error) {
	c := &Claims{Raw: map[string]any(mc)}

	iss, err := mc.GetIssuer()
	if err != nil {
		return nil, err
	}
	c.Issuer = iss

	sub, err := mc.GetSubject()
	if err != nil {
		return nil, err
	}
	c.Subject = sub

	aud, err := mc.GetAudience()
	if err != nil {
		return nil, err
	}
	c.Audience = []string(aud)

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, err
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}

	nbf, err := mc.GetNotBefore()
	if err != nil {
		return nil, err
	}
	if nbf != nil {
		c.NotBefore = nbf.Time
	}

	iat, err := mc.GetIssuedAt()
	if err != nil {
		return nil, err
	}
	if iat != nil {
		c.IssuedAt = iat.Time
	}

	if s, ok := mc["client_id"].(string); ok {
		c.ClientID = s
	}
	if s, ok := mc["scope"].(string); ok {
		c.Scope = s
	}
	return c, nil
}
