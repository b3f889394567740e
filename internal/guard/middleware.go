package guard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"quotad/internal/models"
)

// Middleware enforces the ingress guard per client IP. It is mounted on the
// public API subrouter only; cluster-internal routes must never be guarded or
// a hot client could starve heartbeats. A nil limiter disables the guard.
func Middleware(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			allowed, info := limiter.Allow(client)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetAt.Unix()))

			if !allowed {
				retryAfter := int(info.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(models.NewErrorResponse("Ingress limit exceeded", models.ErrorCodeRateLimited))

				slog.Warn("Ingress guard rejected request",
					"client", client,
					"limit", info.Limit,
					"retry_after", retryAfter,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address, honouring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
