package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/assistant-bridge/internal/api"
	"github.com/ashureev/assistant-bridge/internal/config"
	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/ashureev/assistant-bridge/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// AssistantIDSource reports the id of the assistant currently in use.
type AssistantIDSource interface {
	ID() string
}

var errAssistantNotReady = errors.New("assistant is not synchronized yet")

// Handler serves the integration chat API.
type Handler struct {
	service     *Service
	assistants  AssistantIDSource
	rateLimiter *RateLimiter
	sessions    *SessionManager
	log         ConversationLogger
	turnTimeout time.Duration
	maxBodySize int64
	allowOrigin []string
	logger      *slog.Logger

	// sessionsCtx is cancelled by Shutdown to end WebSocket sessions.
	sessionsCtx  context.Context
	stopSessions context.CancelFunc
}

// NewHandler creates a handler. cfg may be nil, in which case defaults apply.
func NewHandler(service *Service, assistants AssistantIDSource, conversationLogger ConversationLogger, cfg *config.Config, logger *slog.Logger) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	rateLimitRequests := 20
	rateLimitWindow := time.Minute
	turnTimeout := 5 * time.Minute
	origins := []string{"*"}
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		turnTimeout = cfg.TurnTimeout
		origins = cfg.AllowedOrigins()
	}

	sessionsCtx, stopSessions := context.WithCancel(context.Background())
	return &Handler{
		sessionsCtx:  sessionsCtx,
		stopSessions: stopSessions,
		service:      service,
		assistants:   assistants,
		rateLimiter:  NewRateLimiter(rateLimitRequests, rateLimitWindow),
		sessions:     NewSessionManager(),
		log:          conversationLogger,
		turnTimeout:  turnTimeout,
		maxBodySize:  api.DefaultMaxRequestBodySize,
		allowOrigin:  origins,
		logger:       logger,
	}
}

// RegisterRoutes registers the integration routes on r, which is expected to
// be mounted under /api behind the API key middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/{integration}", func(r chi.Router) {
		r.Use(identity.Middleware)
		r.Post("/start", h.HandleStart)
		r.Post("/chat", h.HandleChat)
		r.Get("/chats", h.HandleListChats)
		r.Delete("/chats/{chatID}", h.HandleReset)
	})
}

// RegisterWebSocket registers the WebSocket endpoint on r.
func (h *Handler) RegisterWebSocket(r chi.Router) {
	r.With(identity.Middleware).Get("/ws/{integration}", h.HandleWebSocket)
}

// Shutdown ends every WebSocket session. HTTP turns are left to drain with
// the server; register it with http.Server.RegisterOnShutdown.
func (h *Handler) Shutdown() {
	h.stopSessions()
	h.sessions.CloseAll()
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	h.Shutdown()
	if err := h.log.Close(); err != nil {
		h.logger.Warn("failed to close conversation logger", "error", err)
	}
}

// HandleStart handles POST /api/{integration}/start.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	integration := identity.IntegrationFromContext(r.Context())

	var req StartRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		h.writeDecodeError(w, err)
		return
	}
	chatID, ok := h.resolveChatID(r, req.ChatID)
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid chat_id")
		return
	}

	assistantID := h.assistants.ID()
	if assistantID == "" {
		h.writeTurnError(w, errAssistantNotReady)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.turnTimeout)
	defer cancel()

	resp, err := h.service.StartConversation(ctx, integration, chatID, assistantID)
	if err != nil {
		h.logger.Error("Start conversation failed", "integration", integration, "chat_id", chatID, "error", err)
		h.writeTurnError(w, err)
		return
	}
	h.log.Log(ConversationLogEvent{
		Integration: integration,
		ChatID:      chatID,
		ThreadID:    resp.ThreadID,
		Channel:     "http",
		Direction:   "inbound",
		EventType:   "conversation_started",
		ContentRaw:  resp.Message,
	})
	api.JSON(w, http.StatusOK, resp)
}

// HandleChat handles POST /api/{integration}/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	integration := identity.IntegrationFromContext(r.Context())

	var req ChatRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		h.writeDecodeError(w, err)
		return
	}
	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}
	chatID, ok := h.resolveChatID(r, req.ChatID)
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid chat_id")
		return
	}

	if !h.rateLimiter.Allow(chatKey(integration, chatID)) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	assistantID := h.assistants.ID()
	if assistantID == "" {
		h.writeTurnError(w, errAssistantNotReady)
		return
	}

	resp, err := h.runTurn(r.Context(), "http", integration, chatID, assistantID, req.Message, chiMiddleware.GetReqID(r.Context()))
	if err != nil {
		h.writeTurnError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleReset handles DELETE /api/{integration}/chats/{chatID}.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	integration := identity.IntegrationFromContext(r.Context())
	chatID := identity.SanitizeChatID(chi.URLParam(r, "chatID"))
	if chatID == "" {
		api.Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	if err := h.service.ResetConversation(r.Context(), integration, chatID); err != nil {
		h.logger.Error("Reset conversation failed", "integration", integration, "chat_id", chatID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to reset conversation")
		return
	}
	h.sessions.Close(integration, chatID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleListChats handles GET /api/{integration}/chats.
func (h *Handler) HandleListChats(w http.ResponseWriter, r *http.Request) {
	integration := identity.IntegrationFromContext(r.Context())
	assistantID := r.URL.Query().Get("assistant_id")

	mappings, err := h.service.ListChats(r.Context(), integration, assistantID)
	if err != nil {
		h.logger.Error("List chats failed", "integration", integration, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if mappings == nil {
		mappings = []*domain.ConversationMapping{}
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{
		"integration": integration,
		"chats":       mappings,
	})
}

// runTurn executes one bounded conversation turn and logs both sides of it.
func (h *Handler) runTurn(ctx context.Context, channel, integration, chatID, assistantID, message, requestID string) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	defer cancel()

	h.logger.Info("Chat request",
		"integration", integration,
		"chat_id", chatID,
		"channel", channel,
		"message_length", len(message),
	)
	h.log.Log(ConversationLogEvent{
		Integration: integration,
		ChatID:      chatID,
		Channel:     channel,
		Direction:   "outbound",
		EventType:   "chat_user_message",
		ContentRaw:  message,
		Meta:        map[string]any{"request_id": requestID},
	})

	start := time.Now()
	resp, err := h.service.Chat(ctx, integration, chatID, assistantID, message)
	if err != nil {
		h.logger.Error("Conversation turn failed",
			"integration", integration,
			"chat_id", chatID,
			"duration", time.Since(start),
			"error", err,
		)
		h.log.Log(ConversationLogEvent{
			Integration: integration,
			ChatID:      chatID,
			Channel:     channel,
			Direction:   "inbound",
			EventType:   "chat_error",
			ContentRaw:  err.Error(),
			Meta:        map[string]any{"request_id": requestID},
		})
		return nil, err
	}

	h.log.Log(ConversationLogEvent{
		Integration: integration,
		ChatID:      chatID,
		ThreadID:    resp.ThreadID,
		Channel:     channel,
		Direction:   "inbound",
		EventType:   "chat_assistant_message",
		ContentRaw:  resp.Response,
		Meta: map[string]any{
			"request_id":  requestID,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})
	return resp, nil
}

// resolveChatID picks the body chat id, then the header or query one, and
// issues a fresh id when none was supplied.
func (h *Handler) resolveChatID(r *http.Request, bodyChatID string) (string, bool) {
	if bodyChatID != "" {
		id := identity.SanitizeChatID(bodyChatID)
		return id, id != ""
	}
	if id := identity.ChatIDFromContext(r.Context()); id != "" {
		return id, true
	}
	return identity.NewChatID(), true
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, api.ErrRequestTooLarge) {
		api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	api.Error(w, http.StatusBadRequest, "invalid request body")
}

func (h *Handler) writeTurnError(w http.ResponseWriter, err error) {
	status, message := classifyTurnError(err)
	api.Error(w, status, message)
}

// classifyTurnError maps a turn failure to a status code and the notice shown
// to the end user.
func classifyTurnError(err error) (int, string) {
	var runErr *RunFailedError
	switch {
	case errors.Is(err, errEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, errAssistantNotReady):
		return http.StatusServiceUnavailable, errAssistantNotReady.Error()
	case errors.Is(err, ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "the assistant did not answer in time"
	case errors.As(err, &runErr):
		return http.StatusBadGateway, "the assistant could not complete the request (" + string(runErr.Status) + ")"
	case errors.Is(err, ErrNoReply):
		return http.StatusBadGateway, "the assistant returned no reply"
	case errors.Is(err, domain.ErrRemoteService):
		return http.StatusBadGateway, "the assistant service is unavailable"
	case errors.Is(err, context.Canceled):
		return 499, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
