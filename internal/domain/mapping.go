// Package domain contains core domain types for the assistant bridge.
package domain

import (
	"time"
)

// ConversationMapping binds a chat on a front-end integration to a remote thread.
type ConversationMapping struct {
	Integration string    `json:"integration"`
	ChatID      string    `json:"chat_id"`
	AssistantID string    `json:"assistant_id"`
	ThreadID    string    `json:"thread_id"`
	CreatedAt   time.Time `json:"date_of_creation"`
}

// HasThread returns true if the mapping points at a remote thread.
func (m *ConversationMapping) HasThread() bool {
	return m != nil && m.ThreadID != ""
}
