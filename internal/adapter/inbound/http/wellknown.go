package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/oauth"
)

// protectedResourceHandler serves the locally built RFC 9728 document.
func protectedResourceHandler(provider *oauth.Provider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(provider.ProtectedResourceMetadata())
	})
}

// authServerMetadataHandler proxies the upstream RFC 8414 document so
// clients behind restrictive egress only need to reach the gateway.
func authServerMetadataHandler(provider *oauth.Provider, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, err := provider.AuthServerMetadata(r.Context())
		if err != nil {
			logger.Warn("authorization server metadata fetch failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "metadata_unavailable",
				"error_description": "the authorization server metadata could not be fetched",
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(meta)
	})
}

// healthzHandler is a liveness probe; it reports nothing about
// collaborators.
func healthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
