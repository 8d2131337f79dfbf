package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownKeyID is returned when a token names a signing key the
// key set does not contain, even after a refresh.
var ErrUnknownKeyID = errors.New("unknown signing key id")

// JWKSVerifier implements SignatureVerifier against a remote JSON Web
// Key Set. Keys are fetched lazily, cached, and refreshed through a
// singleflight group so concurrent misses produce a single fetch.
type JWKSVerifier struct {
	jwksURL    string
	client     *http.Client
	refreshMin time.Duration

	mu      sync.RWMutex
	keys    map[string]any
	fetched time.Time

	group  singleflight.Group
	parser *jwt.Parser
}

// NewJWKSVerifier creates a verifier for the given JWKS endpoint.
// The client timeout bounds each fetch; refreshes triggered by unknown
// key ids are rate limited to one per minute.
func NewJWKSVerifier(jwksURL string, timeout time.Duration) *JWKSVerifier {
	return &JWKSVerifier{
		jwksURL:    jwksURL,
		client:     &http.Client{Timeout: timeout},
		refreshMin: time.Minute,
		keys:       make(map[string]any),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			// Claims were already validated structurally; this parser
			// only decides the signature question.
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify checks the token's signature against the cached key set,
// refreshing it once if the token names an unknown key id.
func (j *JWKSVerifier) Verify(ctx context.Context, rawToken string) error {
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if key := j.lookup(kid); key != nil {
			return key, nil
		}
		if err := j.refresh(ctx); err != nil {
			return nil, err
		}
		if key := j.lookup(kid); key != nil {
			return key, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}

	_, err := j.parser.Parse(rawToken, keyfunc)
	return err
}

// lookup returns the cached key for kid. A token without a kid matches
// a single-key set.
func (j *JWKSVerifier) lookup(kid string) any {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if key, ok := j.keys[kid]; ok {
		return key
	}
	if kid == "" && len(j.keys) == 1 {
		for _, key := range j.keys {
			return key
		}
	}
	return nil
}

// refresh fetches the key set, deduplicating concurrent callers and
// skipping fetches that would arrive inside the rate-limit floor.
func (j *JWKSVerifier) refresh(ctx context.Context) error {
	_, err, _ := j.group.Do("jwks", func() (any, error) {
		j.mu.RLock()
		last := j.fetched
		j.mu.RUnlock()
		if time.Since(last) < j.refreshMin {
			return nil, nil
		}

		keys, err := j.fetch(ctx)
		if err != nil {
			return nil, err
		}

		j.mu.Lock()
		j.keys = keys
		j.fetched = time.Now()
		j.mu.Unlock()
		return nil, nil
	})
	return err
}

type jwksDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (j *JWKSVerifier) fetch(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			// A single unusable key must not poison the whole set.
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contained no usable signing keys")
	}
	return keys, nil
}

// publicKey decodes the JWK into a crypto public key. Only RSA and EC
// key types are supported, matching the accepted signing algorithms.
func (k jsonWebKey) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode modulus: %w", err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode exponent: %w", err)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("decode x: %w", err)
		}
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("decode y: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

// Compile-time interface verification.
var _ SignatureVerifier = (*JWKSVerifier)(nil)
