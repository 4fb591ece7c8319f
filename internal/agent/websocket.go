package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/ashureev/assistant-bridge/internal/identity"
	"github.com/coder/websocket"
)

// wsMessage is the JSON frame exchanged on /ws/{integration}.
type wsMessage struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Content  string `json:"content,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HandleWebSocket upgrades the request and serves chat frames until the client
// disconnects. Frames without chat_id use the connection's chat, taken from
// the chat_id query parameter or issued on connect.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	integration := identity.IntegrationFromContext(r.Context())
	chatID := identity.ChatIDFromContext(r.Context())
	if chatID == "" {
		chatID = identity.NewChatID()
	}
	h.logger.Info("WebSocket connection request", "integration", integration, "chat_id", chatID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.allowOrigin),
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "integration", integration)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "chat_id", chatID)
		}
	}()

	h.sessions.Register(integration, chatID, ws)
	defer h.sessions.Unregister(integration, chatID, ws)

	// In-flight turns are cancelled before they are awaited.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stopOnShutdown := context.AfterFunc(h.sessionsCtx, cancel)
	defer stopOnShutdown()

	if err := writeFrame(ctx, ws, wsMessage{Type: "connected", ChatID: chatID}); err != nil {
		h.logger.Debug("Failed to send connected frame", "error", err)
		return
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "chat_id", chatID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "chat_id", chatID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = writeFrame(ctx, ws, wsMessage{Type: "error", Error: "invalid frame"})
			continue
		}

		frameChat := chatID
		if msg.ChatID != "" {
			frameChat = identity.SanitizeChatID(msg.ChatID)
			if frameChat == "" {
				_ = writeFrame(ctx, ws, wsMessage{Type: "error", Error: "invalid chat_id"})
				continue
			}
		}

		switch msg.Type {
		case "ping":
			_ = writeFrame(ctx, ws, wsMessage{Type: "pong"})
		case "start", "message":
			// Turns run off the read loop so control frames keep being handled.
			wg.Add(1)
			go func(msg wsMessage, chat string) {
				defer wg.Done()
				h.serveFrame(ctx, ws, integration, chat, msg)
			}(msg, frameChat)
		default:
			_ = writeFrame(ctx, ws, wsMessage{Type: "error", ChatID: frameChat, Error: "unknown frame type"})
		}
	}
}

func (h *Handler) serveFrame(ctx context.Context, ws *websocket.Conn, integration, chatID string, msg wsMessage) {
	assistantID := h.assistants.ID()
	if assistantID == "" {
		_ = writeFrame(ctx, ws, wsMessage{Type: "error", ChatID: chatID, Error: errAssistantNotReady.Error()})
		return
	}

	if msg.Type == "start" {
		startCtx, cancel := context.WithTimeout(ctx, h.turnTimeout)
		defer cancel()
		resp, err := h.service.StartConversation(startCtx, integration, chatID, assistantID)
		if err != nil {
			_, notice := classifyTurnError(err)
			_ = writeFrame(ctx, ws, wsMessage{Type: "error", ChatID: chatID, Error: notice})
			return
		}
		_ = writeFrame(ctx, ws, wsMessage{Type: "response", ChatID: chatID, ThreadID: resp.ThreadID, Content: resp.Message})
		return
	}

	if msg.Content == "" {
		_ = writeFrame(ctx, ws, wsMessage{Type: "error", ChatID: chatID, Error: "message is required"})
		return
	}
	if !h.rateLimiter.Allow(chatKey(integration, chatID)) {
		_ = writeFrame(ctx, ws, wsMessage{Type: "error", ChatID: chatID, Error: "rate limit exceeded"})
		return
	}

	resp, err := h.runTurn(ctx, "websocket", integration, chatID, assistantID, msg.Content, "")
	if err != nil {
		_, notice := classifyTurnError(err)
		_ = writeFrame(ctx, ws, wsMessage{Type: "error", ChatID: chatID, Error: notice})
		return
	}
	if err := writeFrame(ctx, ws, wsMessage{Type: "response", ChatID: chatID, ThreadID: resp.ThreadID, Content: resp.Response}); err != nil {
		h.logger.Debug("Failed to send response frame", "error", err, "chat_id", chatID)
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// originPatterns converts allowed origins to host patterns for websocket.Accept.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}
