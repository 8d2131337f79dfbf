package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/auth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
)

// adminResetHandler serves POST /admin/ratelimit/reset. The caller
// authenticates with X-Admin-Key, compared against the configured hash.
// An empty hash means the endpoint was never provisioned; it answers
// 404 so probes cannot distinguish it from an unknown route.
func adminResetHandler(limiter ratelimit.Limiter, apiKeyHash string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKeyHash == "" || limiter == nil {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := auth.VerifyAdminKey(r.Header.Get("X-Admin-Key"), apiKeyHash); err != nil {
			logger.Warn("admin key rejected", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req struct {
			ClientID string `json:"client_id"`
			Category string `json:"category"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
			http.Error(w, "client_id is required", http.StatusBadRequest)
			return
		}

		if err := limiter.ResetClient(r.Context(), req.ClientID, req.Category); err != nil {
			logger.Error("rate limit reset failed", "client_id", req.ClientID, "error", err)
			http.Error(w, "reset failed", http.StatusInternalServerError)
			return
		}
		logger.Info("rate limit reset", "client_id", req.ClientID, "category", req.Category)
		w.WriteHeader(http.StatusNoContent)
	})
}
