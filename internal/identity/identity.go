// Package identity resolves which integration and chat a request belongs to.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// ChatHeaderName carries the chat id for requests without a JSON body.
	ChatHeaderName = "X-Chat-ID"
	// IntegrationParam is the chi URL parameter naming the integration.
	IntegrationParam = "integration"
)

type contextKey int

const (
	integrationKey contextKey = iota
	chatIDKey
)

var (
	integrationPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	chatIDPattern      = regexp.MustCompile(`^[A-Za-z0-9._:@+-]{1,128}$`)
)

// IntegrationFromContext extracts the integration name from the request context.
func IntegrationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(integrationKey).(string); ok {
		return v
	}
	return ""
}

// ChatIDFromContext extracts the chat id supplied by header or query, if any.
func ChatIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(chatIDKey).(string); ok {
		return v
	}
	return ""
}

// WithChat returns a context carrying integration and chatID.
func WithChat(ctx context.Context, integration, chatID string) context.Context {
	ctx = context.WithValue(ctx, integrationKey, integration)
	return context.WithValue(ctx, chatIDKey, chatID)
}

// IsValidIntegration reports whether name is an acceptable integration name.
func IsValidIntegration(name string) bool {
	return integrationPattern.MatchString(name)
}

// SanitizeChatID returns id trimmed, or "" if it is not an acceptable chat id.
func SanitizeChatID(id string) string {
	id = strings.TrimSpace(id)
	if !chatIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// NewChatID issues an id for a chat that did not bring its own.
func NewChatID() string {
	return uuid.NewString()
}

func chatIDFromRequest(r *http.Request) string {
	id := r.Header.Get(ChatHeaderName)
	if id == "" {
		id = r.URL.Query().Get("chat_id")
	}
	return SanitizeChatID(id)
}

// Middleware validates the {integration} URL parameter and stores it, along
// with any header or query chat id, in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		integration := strings.ToLower(chi.URLParam(r, IntegrationParam))
		if !IsValidIntegration(integration) {
			http.Error(w, `{"error":"invalid integration"}`, http.StatusBadRequest)
			return
		}
		ctx := WithChat(r.Context(), integration, chatIDFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
