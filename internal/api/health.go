package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/assistant-bridge/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// AssistantIDSource reports the id of the assistant currently in use.
type AssistantIDSource interface {
	ID() string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo       store.Repository
	assistants AssistantIDSource
}

// NewHealthHandler creates a new health handler. assistants may be nil.
func NewHealthHandler(repo store.Repository, assistants AssistantIDSource) *HealthHandler {
	return &HealthHandler{repo: repo, assistants: assistants}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.assistants != nil {
		if id := h.assistants.ID(); id != "" {
			checks["assistant"] = "ok"
			status["assistant_id"] = id
		} else {
			checks["assistant"] = "not_synchronized"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
