package agent

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the WebSocket connection open for each integration chat.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a chat.
func (m *SessionManager) GetActive(integration, chatID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if chats, ok := m.active[integration]; ok {
		return chats[chatID]
	}
	return nil
}

// Register records conn for the chat, closing any connection it replaces.
func (m *SessionManager) Register(integration, chatID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[integration]; !exists {
		m.active[integration] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[integration][chatID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[integration][chatID] = conn
	slog.Info("Chat session registered", "integration", integration, "chat_id", chatID)
}

// Unregister removes conn if it is still the active connection for the chat.
func (m *SessionManager) Unregister(integration, chatID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chats, ok := m.active[integration]; ok {
		if current, exists := chats[chatID]; exists && current == conn {
			delete(chats, chatID)
			if len(chats) == 0 {
				delete(m.active, integration)
			}
			slog.Info("Chat session unregistered", "integration", integration, "chat_id", chatID)
		}
	}
}

// Close terminates the active connection of a chat, if any.
func (m *SessionManager) Close(integration, chatID string) {
	m.mu.Lock()
	var conn *websocket.Conn
	if chats, ok := m.active[integration]; ok {
		conn = chats[chatID]
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(m.active, integration)
		}
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "conversation reset")
		slog.Info("Chat session closed", "integration", integration, "chat_id", chatID)
	}
}

// CloseAll terminates every active connection.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	var conns []*websocket.Conn
	for integration, chats := range m.active {
		for _, conn := range chats {
			conns = append(conns, conn)
		}
		delete(m.active, integration)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// Count returns the number of registered connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, chats := range m.active {
		n += len(chats)
	}
	return n
}
