package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig marks a startup-fatal configuration error. The
// process must refuse to start rather than serve requests under a broken
// security promise.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration using struct tags plus the
// cross-field security rules. Any failure is fatal at startup.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	return nil
}

// validateAuth enforces the enabled-implies-configured rule: an enabled
// authentication subsystem with missing pieces must abort startup.
func (c *Config) validateAuth() error {
	if !c.Auth.Enabled {
		return nil
	}
	var missing []string
	if c.Auth.ServerCanonicalURI == "" {
		missing = append(missing, "auth.server_canonical_uri")
	}
	if c.Auth.AuthServerURL == "" {
		missing = append(missing, "auth.auth_server_url")
	}
	if c.Auth.ClientID == "" {
		missing = append(missing, "auth.client_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: auth.enabled requires %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	if c.RateLimit.Store == StoreRedis && c.RateLimit.RedisURL == "" {
		return fmt.Errorf("%w: rate_limit.store=redis requires rate_limit.redis_url", ErrInvalidConfig)
	}
	for name, w := range c.RateLimit.Categories {
		if w.WindowMs <= 0 || w.MaxRequests <= 0 {
			return fmt.Errorf("%w: rate_limit.categories.%s needs positive window_ms and max_requests", ErrInvalidConfig, name)
		}
	}
	for name, w := range c.RateLimit.Tools {
		if w.WindowMs <= 0 || w.MaxRequests <= 0 {
			return fmt.Errorf("%w: rate_limit.tools.%s needs positive window_ms and max_requests", ErrInvalidConfig, name)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors into one
// human-readable message wrapping ErrInvalidConfig.
func formatValidationErrors(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	messages := make([]string, 0, len(ve))
	for _, e := range ve {
		messages = append(messages, formatSingleValidationError(e))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation rule %q", field, e.Tag())
	}
}
