package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/ctxkey"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/auth"
)

// RequestIDMiddleware extracts or generates a request ID and enriches
// the logger. The ID is stored under ctxkey.RequestIDKey; the enriched
// logger under ctxkey.LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger.With("request_id", requestID))

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RealIPMiddleware extracts the client's IP address for rate-limit
// identity. X-Forwarded-For and X-Real-IP are consulted for reverse
// proxy deployments; only the first forwarded entry is trusted.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxkey.ClientIPKey{}, extractRealIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ChallengeConfig shapes the WWW-Authenticate header on 401 responses.
type ChallengeConfig struct {
	// Realm is the gateway's canonical resource URI.
	Realm string

	// MetadataURL is the absolute URL of the protected-resource
	// discovery document, advertised so clients can bootstrap OAuth.
	MetadataURL string
}

// BearerAuthMiddleware validates the Authorization bearer token before
// any frame is decoded. Failures answer 401 with an RFC 6750 challenge;
// successes store the raw token for the admission pipeline.
func BearerAuthMiddleware(validator *auth.Validator, challenge ChallengeConfig, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			_, err := validator.Validate(r.Context(), raw)
			if err != nil {
				reason := auth.SafeReason(err)
				if metrics != nil {
					metrics.AuthFailures.WithLabelValues(reason).Inc()
				}
				writeChallenge(w, challenge, err, reason)
				return
			}

			ctx := context.WithValue(r.Context(), ctxkey.RawTokenKey{}, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// writeChallenge answers 401. A missing token gets the bare challenge;
// a rejected token additionally carries error and error_description per
// RFC 6750 section 3.1.
func writeChallenge(w http.ResponseWriter, challenge ChallengeConfig, err error, reason string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Bearer realm=%q", challenge.Realm)
	if !errors.Is(err, auth.ErrMissingToken) {
		fmt.Fprintf(&b, ", error=%q, error_description=%q", "invalid_token", reason)
	}
	if challenge.MetadataURL != "" {
		fmt.Fprintf(&b, ", resource=%q", challenge.MetadataURL)
	}
	w.Header().Set("WWW-Authenticate", b.String())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             "unauthorized",
		"error_description": reason,
		"metadata_url":      challenge.MetadataURL,
	})
}
