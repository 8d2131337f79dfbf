// Package oauth provides the OAuth discovery metadata surface: the
// locally built protected-resource document and the cached fetch of the
// upstream authorization-server document.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Well-known paths for the two discovery documents.
const (
	WellKnownProtectedResource   = "/.well-known/oauth-protected-resource"
	WellKnownAuthorizationServer = "/.well-known/oauth-authorization-server"
)

// ErrUpstreamMetadata is returned when the authorization-server metadata
// cannot be fetched, decoded, or is missing required fields.
var ErrUpstreamMetadata = errors.New("authorization server metadata unavailable")

// ErrAuthConfiguration is returned when the authorization server's
// advertised capabilities are unacceptable for this deployment. It is a
// startup-fatal condition, not a per-request one.
var ErrAuthConfiguration = errors.New("authorization server configuration unacceptable")

// ProtectedResource is the RFC 9728 protected-resource metadata document,
// built locally from configuration.
type ProtectedResource struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	JWKSURI                string   `json:"jwks_uri,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
	OpPolicyURI            string   `json:"op_policy_uri,omitempty"`
	OpTOSURI               string   `json:"op_tos_uri,omitempty"`
}

// ServerMetadata is the RFC 8414 authorization-server metadata document,
// fetched from the upstream well-known endpoint.
type ServerMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	RegistrationEndpoint  string   `json:"registration_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
	ResponseTypes         []string `json:"response_types_supported,omitempty"`
	GrantTypes            []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuth     []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// SupportsPKCES256 reports whether the server advertises the S256 code
// challenge method.
func (m *ServerMetadata) SupportsPKCES256() bool {
	for _, method := range m.CodeChallengeMethods {
		if method == "S256" {
			return true
		}
	}
	return false
}

// ResourceConfig describes the protected resource this gateway fronts.
type ResourceConfig struct {
	// Resource is the canonical resource URI clients must bind tokens to.
	Resource string
	// AuthorizationServers lists the issuer base URLs.
	AuthorizationServers []string
	// JWKSURI optionally points at the resource's own key set.
	JWKSURI string
	// Documentation, PolicyURI and TOSURI are optional informative links.
	Documentation string
	PolicyURI     string
	TOSURI        string
}

// Provider serves both discovery documents. The upstream document is
// cached for a fixed TTL with singleflight-deduplicated refresh.
// Thread-safe.
type Provider struct {
	resource      ResourceConfig
	authServerURL string
	client        *http.Client
	cacheTTL      time.Duration

	mu        sync.RWMutex
	cached    *ServerMetadata
	fetchedAt time.Time

	group singleflight.Group
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithHTTPClient replaces the fetch client, mostly for tests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.client = c
	}
}

// WithCacheTTL overrides the default 5 minute metadata cache TTL.
func WithCacheTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) {
		p.cacheTTL = ttl
	}
}

// NewProvider creates a metadata provider. authServerURL is the issuer
// base URL; the well-known path is appended for fetches.
func NewProvider(resource ResourceConfig, authServerURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		resource:      resource,
		authServerURL: strings.TrimRight(authServerURL, "/"),
		client:        &http.Client{Timeout: 10 * time.Second},
		cacheTTL:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProtectedResourceMetadata builds the local discovery document. It is
// served even when authentication is disabled, reflecting configuration.
func (p *Provider) ProtectedResourceMetadata() *ProtectedResource {
	return &ProtectedResource{
		Resource:               p.resource.Resource,
		AuthorizationServers:   p.resource.AuthorizationServers,
		JWKSURI:                p.resource.JWKSURI,
		BearerMethodsSupported: []string{"header"},
		ResourceDocumentation:  p.resource.Documentation,
		OpPolicyURI:            p.resource.PolicyURI,
		OpTOSURI:               p.resource.TOSURI,
	}
}

// ResourceMetadataURL returns the absolute URL of the protected-resource
// document, advertised in WWW-Authenticate challenges.
func (p *Provider) ResourceMetadataURL() string {
	u, err := url.Parse(p.resource.Resource)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return WellKnownProtectedResource
	}
	return u.Scheme + "://" + u.Host + WellKnownProtectedResource
}

// AuthServerMetadata returns the upstream authorization-server document,
// fetching at most once per cache TTL. Concurrent cold-cache callers
// share a single fetch.
func (p *Provider) AuthServerMetadata(ctx context.Context) (*ServerMetadata, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.fetchedAt) < p.cacheTTL {
		md := p.cached
		p.mu.RUnlock()
		return md, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do("metadata", func() (any, error) {
		p.mu.RLock()
		if p.cached != nil && time.Since(p.fetchedAt) < p.cacheTTL {
			md := p.cached
			p.mu.RUnlock()
			return md, nil
		}
		p.mu.RUnlock()

		md, err := p.fetch(ctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cached = md
		p.fetchedAt = time.Now()
		p.mu.Unlock()
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ServerMetadata), nil
}

// VerifyStartup fetches the upstream document once and enforces the
// PKCE invariant: the server MUST advertise the S256 code challenge
// method. Run at boot when authentication is enabled; a failure here
// should abort startup rather than degrade silently.
func (p *Provider) VerifyStartup(ctx context.Context) error {
	md, err := p.AuthServerMetadata(ctx)
	if err != nil {
		return err
	}
	if !md.SupportsPKCES256() {
		return fmt.Errorf("%w: PKCE S256 not advertised in code_challenge_methods_supported %v",
			ErrAuthConfiguration, md.CodeChallengeMethods)
	}
	return nil
}

func (p *Provider) fetch(ctx context.Context) (*ServerMetadata, error) {
	endpoint := p.authServerURL + WellKnownAuthorizationServer
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstreamMetadata, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamMetadata, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrUpstreamMetadata, resp.StatusCode, endpoint)
	}

	var md ServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstreamMetadata, err)
	}

	var missing []string
	if md.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if md.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if md.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if md.JWKSURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrUpstreamMetadata, strings.Join(missing, ", "))
	}
	return &md, nil
}
