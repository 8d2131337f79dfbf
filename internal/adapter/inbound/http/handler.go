package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/service"
)

// maxRequestBytes caps the inbound frame size.
const maxRequestBytes = 1 << 20 // 1 MiB

// mcpHandler serves POST /mcp: one JSON-RPC frame in, one out.
func mcpHandler(dispatch *service.DispatchService, metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "" && !isJSONContentType(ct) {
			http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > maxRequestBytes {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		reply := dispatch.Handle(r.Context(), body)
		writeRateHeaders(w, reply.Rate, reply.Window)

		if reply.CategoryDenied {
			if metrics != nil {
				metrics.RateLimited.Inc()
			}
			writeRateLimited(w, reply)
			return
		}

		// Notifications have no response body.
		if len(reply.Body) == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(reply.Body)
	})
}

func isJSONContentType(ct string) bool {
	// Accept parameters like "; charset=utf-8".
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			ct = ct[:i]
			break
		}
	}
	switch ct {
	case "application/json", "application/json-rpc":
		return true
	}
	return false
}

// writeRateHeaders advertises the category-tier quota. Skipped when the
// limiter did not run or failed open.
func writeRateHeaders(w http.ResponseWriter, dec *ratelimit.Decision, window time.Duration) {
	if dec == nil || dec.Remaining < 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
	if window > 0 {
		w.Header().Set("X-RateLimit-Window", strconv.FormatInt(window.Milliseconds(), 10))
	}
}

// writeRateLimited answers a category-tier denial with HTTP 429,
// replacing the in-protocol body the dispatcher produced.
func writeRateLimited(w http.ResponseWriter, reply service.Reply) {
	retrySecs := int(reply.RetryAfter.Round(time.Second).Seconds())
	if retrySecs < 1 {
		retrySecs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retrySecs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	info := map[string]any{
		"remaining":  0,
		"retryAfter": retrySecs,
	}
	if reply.Rate != nil {
		info["limit"] = reply.Rate.Limit
		info["resetTime"] = reply.Rate.ResetAt.UTC().Format(time.RFC3339)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":       false,
		"error":         "Rate limit exceeded",
		"message":       "Rate limit exceeded. Please retry in " + strconv.Itoa(retrySecs) + " seconds.",
		"rateLimitInfo": info,
	})
}
