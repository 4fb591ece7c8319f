// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/assistant-bridge/internal/domain"
)

// Repository defines the interface for persisting chat-to-thread mappings.
// Every method is atomic with respect to the others; no locks are held
// between calls.
type Repository interface {
	// UpsertMapping creates or replaces the mapping for (integration, chatID).
	// The creation timestamp is refreshed on every write.
	UpsertMapping(ctx context.Context, integration, chatID, assistantID, threadID string) error

	// GetMappingByChat returns the mapping for (integration, chatID), or nil if none exists.
	GetMappingByChat(ctx context.Context, integration, chatID string) (*domain.ConversationMapping, error)

	// ListMappingsByAssistant returns every mapping of integration bound to assistantID.
	ListMappingsByAssistant(ctx context.Context, integration, assistantID string) ([]*domain.ConversationMapping, error)

	// ListMappings returns every mapping of integration, or of all integrations if empty.
	ListMappings(ctx context.Context, integration string) ([]*domain.ConversationMapping, error)

	// DeleteMapping removes the mapping for (integration, chatID). Deleting a
	// missing mapping is not an error.
	DeleteMapping(ctx context.Context, integration, chatID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
