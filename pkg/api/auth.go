// Admin API authentication — static bearer token.
//
// The webhook and health routes are public: the webhook authenticates itself
// by signature, and the platform cannot attach a bearer token. Everything
// under /api except /api/health requires:
//
//	Authorization: Bearer <api_key>
//
// or:
//
//	X-API-Key: <api_key>
//
// WebSocket upgrade requests may carry the token as a query param instead:
//
//	ws://host/api/ws?token=<api_key>
//
// When no api key is configured, the admin routes are disabled outright.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/travelmate-bot/travelmate/pkg/logger"
)

// authMiddleware wraps a handler with bearer token checking on admin routes.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("auth", "No admin API key configured — admin routes disabled")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if apiKey == "" {
			http.NotFound(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="travelmate"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized — bearer token required",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken pulls the bearer token from Authorization header,
// X-API-Key header, or ?token= query param (for WebSocket upgrades).
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	return ""
}

// tokenValid does a constant-time comparison to prevent timing attacks.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// isPublicPath returns true for paths that never require a bearer token.
func isPublicPath(path string) bool {
	switch path {
	case "/", "/callback", "/api/health":
		return true
	default:
		return false
	}
}
