// Package config provides configuration types and loading for
// lexicon-gate.
//
// Configuration is read from a YAML file plus LEXICON_GATE_* environment
// variables. Validation failures are fatal at startup: serving requests
// under a broken security configuration is worse than not starting.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for lexicon-gate.
type Config struct {
	// Server configures the HTTP listener and deployment identity.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Auth configures bearer-token authentication. Disabled by default;
	// when enabled the canonical URI, auth server URL, and client ID are
	// required.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// RateLimit configures the multi-tier fixed-window rate limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Validation configures the sanitization policy overrides.
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`

	// Policy configures the CEL admission rules.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// SafeMode restricts the externally visible tool catalog to the
	// read-only allow-list.
	SafeMode SafeModeConfig `yaml:"safe_mode" mapstructure:"safe_mode"`

	// Audit configures the admission decision log.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Admin configures the administrative endpoints.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Observability configures the OTel dev telemetry.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// Fullstory configures the FullStory API collaborator.
	Fullstory FullstoryConfig `yaml:"fullstory" mapstructure:"fullstory"`

	// Warehouse configures the warehouse executor collaborator.
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
}

// Deployment environments accepted by server.environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ServerConfig configures the HTTP server and the gateway's identity.
type ServerConfig struct {
	// Host is the listen host. Defaults to "127.0.0.1" (localhost only).
	Host string `yaml:"host" mapstructure:"host"`

	// Port is the listen port. Defaults to 8080.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// Environment is "development" or "production". Production tightens
	// the URL validator's loopback check.
	Environment string `yaml:"environment" mapstructure:"environment" validate:"omitempty,oneof=development production"`

	// DocsURL, PolicyURI and TOSURI are optional links advertised in the
	// protected-resource metadata document.
	DocsURL   string `yaml:"docs_url" mapstructure:"docs_url" validate:"omitempty,url"`
	PolicyURI string `yaml:"policy_uri" mapstructure:"policy_uri" validate:"omitempty,url"`
	TOSURI    string `yaml:"tos_uri" mapstructure:"tos_uri" validate:"omitempty,url"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	// Enabled gates the entire authentication subsystem. Default false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ServerCanonicalURI is this gateway's resource identifier; tokens
	// must carry it in their audience when audience validation is on.
	ServerCanonicalURI string `yaml:"server_canonical_uri" mapstructure:"server_canonical_uri" validate:"omitempty,url"`

	// AuthServerURL is the upstream authorization server's issuer base
	// URL, used for discovery metadata fetches.
	AuthServerURL string `yaml:"auth_server_url" mapstructure:"auth_server_url" validate:"omitempty,url"`

	// ClientID identifies this gateway at the authorization server.
	ClientID string `yaml:"client_id" mapstructure:"client_id"`

	// TokenCacheSeconds is the token cache entry TTL. Defaults to 300.
	TokenCacheSeconds int `yaml:"token_cache_seconds" mapstructure:"token_cache_seconds" validate:"omitempty,min=1"`

	// MaxTokenAgeSeconds rejects tokens issued longer ago than this,
	// independent of their expiry. Defaults to 86400. Zero disables.
	MaxTokenAgeSeconds int `yaml:"max_token_age_seconds" mapstructure:"max_token_age_seconds" validate:"omitempty,min=0"`

	// RequireAudienceValidation enforces audience binding. Default true.
	RequireAudienceValidation bool `yaml:"require_audience_validation" mapstructure:"require_audience_validation"`

	// VerifySignatures installs the JWKS signature verifier. Default
	// false: the base deployment performs structural and claims
	// validation only, which is a documented limitation.
	VerifySignatures bool `yaml:"verify_signatures" mapstructure:"verify_signatures"`
}

// TokenCacheTTL returns the token cache TTL as a duration.
func (a AuthConfig) TokenCacheTTL() time.Duration {
	return time.Duration(a.TokenCacheSeconds) * time.Second
}

// MaxTokenAge returns the issued-at age ceiling as a duration.
func (a AuthConfig) MaxTokenAge() time.Duration {
	return time.Duration(a.MaxTokenAgeSeconds) * time.Second
}

// Rate limit store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// WindowConfig is one fixed-window tier: max requests per window span.
type WindowConfig struct {
	WindowMs    int `yaml:"window_ms" mapstructure:"window_ms" validate:"omitempty,min=1"`
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests" validate:"omitempty,min=1"`
}

// Span returns the window length as a duration.
func (w WindowConfig) Span() time.Duration {
	return time.Duration(w.WindowMs) * time.Millisecond
}

// IsZero reports whether the tier was left unconfigured.
func (w WindowConfig) IsZero() bool {
	return w.WindowMs == 0 && w.MaxRequests == 0
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Default true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Store selects the bucket store backend: memory or redis.
	Store string `yaml:"store" mapstructure:"store" validate:"omitempty,oneof=memory redis"`

	// RedisURL is the connection string; required when Store is redis.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`

	// Default is the category tier applied when no per-category tier is
	// configured.
	Default WindowConfig `yaml:"default" mapstructure:"default"`

	// Categories holds per-category tiers keyed by category name.
	Categories map[string]WindowConfig `yaml:"categories" mapstructure:"categories"`

	// Tool is the per-(tool, client) tier applied to tool invocations.
	Tool WindowConfig `yaml:"tool" mapstructure:"tool"`

	// Tools holds per-tool overrides keyed by tool name.
	Tools map[string]WindowConfig `yaml:"tools" mapstructure:"tools"`
}

// ValidationConfig configures the sanitization layer.
type ValidationConfig struct {
	// PolicyFile optionally points at a YAML category-policy override
	// file loaded at startup.
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`
}

// PolicyConfig configures the CEL admission rules.
type PolicyConfig struct {
	// RulesFile optionally points at a YAML rules file. Empty disables
	// the policy stage.
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
}

// SafeModeConfig restricts the tool catalog.
type SafeModeConfig struct {
	// Enabled limits the visible and callable tools to the read-only
	// allow-list. Default false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// AuditConfig configures the admission decision log.
type AuditConfig struct {
	// Enabled turns audit persistence on. Default false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// AdminConfig configures the administrative surface.
type AdminConfig struct {
	// APIKeyHash guards the rate-limit reset endpoint. Accepts
	// "sha256:<hex>", bare SHA-256 hex, or an argon2id PHC string.
	// Empty disables the endpoint.
	APIKeyHash string `yaml:"api_key_hash" mapstructure:"api_key_hash"`
}

// ObservabilityConfig configures dev telemetry.
type ObservabilityConfig struct {
	// TracingEnabled turns on the OTel stdout trace/metric exporters.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// FullstoryConfig configures the FullStory API client.
type FullstoryConfig struct {
	// APIBaseURL is the FullStory API base. Defaults to the public API.
	APIBaseURL string `yaml:"api_base_url" mapstructure:"api_base_url" validate:"omitempty,url"`

	// APIToken authenticates outbound FullStory calls.
	APIToken string `yaml:"api_token" mapstructure:"api_token"`

	// RequestsPerSecond throttles the outbound client. Defaults to 5.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"omitempty,gt=0"`
}

// WarehouseConfig configures the warehouse executor.
type WarehouseConfig struct {
	// Platform is the backing warehouse: bigquery or snowflake. Empty
	// leaves the executor unconfigured (queries fail with a clear error).
	Platform string `yaml:"platform" mapstructure:"platform" validate:"omitempty,oneof=bigquery snowflake"`

	// DSN is the platform connection string.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// SetDefaults applies default values to unset fields. Tri-state booleans
// whose default is true are resolved through viper.IsSet so an explicit
// false in YAML or env is honored.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Environment == "" {
		c.Server.Environment = EnvDevelopment
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Auth.TokenCacheSeconds == 0 {
		c.Auth.TokenCacheSeconds = 300
	}
	if c.Auth.MaxTokenAgeSeconds == 0 && !viper.IsSet("auth.max_token_age_seconds") {
		c.Auth.MaxTokenAgeSeconds = 86400
	}
	if !viper.IsSet("auth.require_audience_validation") {
		c.Auth.RequireAudienceValidation = true
	}

	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = StoreMemory
	}
	if c.RateLimit.Default.IsZero() {
		c.RateLimit.Default = WindowConfig{WindowMs: 60_000, MaxRequests: 100}
	}
	if c.RateLimit.Tool.IsZero() {
		c.RateLimit.Tool = WindowConfig{WindowMs: 60_000, MaxRequests: 20}
	}
	if c.RateLimit.Categories == nil {
		c.RateLimit.Categories = map[string]WindowConfig{
			"warehouse": {WindowMs: 60_000, MaxRequests: 20},
			"fullstory": {WindowMs: 60_000, MaxRequests: 60},
		}
	}

	if c.Audit.DBPath == "" {
		c.Audit.DBPath = "lexicon-audit.db"
	}

	if c.Fullstory.APIBaseURL == "" {
		c.Fullstory.APIBaseURL = "https://api.fullstory.com"
	}
	if c.Fullstory.RequestsPerSecond == 0 {
		c.Fullstory.RequestsPerSecond = 5
	}
}
