package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// APIKeyHeader carries the shared secret on /api requests.
const APIKeyHeader = "X-API-KEY"

// APIKey rejects requests whose X-API-KEY header does not match key. The
// api_key query parameter is accepted for WebSocket clients that cannot set
// headers. An empty key disables the check.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		expected := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APIKeyHeader)
			if provided == "" {
				provided = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				slog.Warn("Rejected request with invalid API key", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, `{"error":"invalid or missing API key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
