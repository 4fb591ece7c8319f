package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/ashureev/assistant-bridge/internal/store"
)

// Greeting is returned when a conversation is started.
const Greeting = "Howdy, how can I help you?"

var errEmptyMessage = errors.New("message is empty")

// Service binds integration chats to remote threads and runs conversation turns.
type Service struct {
	repo         store.Repository
	remote       RemoteService
	orchestrator *Orchestrator
	locks        *chatLocks
	logger       *slog.Logger
}

// NewService creates a conversation service.
func NewService(repo store.Repository, remote RemoteService, orchestrator *Orchestrator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		remote:       remote,
		orchestrator: orchestrator,
		locks:        newChatLocks(),
		logger:       logger,
	}
}

// GetOrCreateThread returns the thread bound to the chat, creating and
// recording a new one when none exists. A mapping recorded for another
// assistant keeps its thread and is rebound to assistantID.
func (s *Service) GetOrCreateThread(ctx context.Context, integration, chatID, assistantID string) (string, error) {
	mapping, err := s.repo.GetMappingByChat(ctx, integration, chatID)
	if err != nil {
		return "", err
	}

	if mapping.HasThread() {
		if mapping.AssistantID != assistantID {
			s.logger.Info("Rebinding chat to current assistant",
				"integration", integration,
				"chat_id", chatID,
				"previous_assistant_id", mapping.AssistantID,
				"assistant_id", assistantID,
			)
			if err := s.repo.UpsertMapping(ctx, integration, chatID, assistantID, mapping.ThreadID); err != nil {
				return "", err
			}
		}
		return mapping.ThreadID, nil
	}

	threadID, err := s.remote.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread for chat %s: %w: %w", chatID, domain.ErrRemoteService, err)
	}
	if err := s.repo.UpsertMapping(ctx, integration, chatID, assistantID, threadID); err != nil {
		return "", err
	}

	// Another writer may have won the race; the stored row is authoritative.
	stored, err := s.repo.GetMappingByChat(ctx, integration, chatID)
	if err != nil {
		return "", err
	}
	if !stored.HasThread() {
		return "", fmt.Errorf("mapping for chat %s missing after upsert: %w", chatID, domain.ErrIO)
	}
	s.logger.Info("Created thread for chat",
		"integration", integration,
		"chat_id", chatID,
		"thread_id", stored.ThreadID,
	)
	return stored.ThreadID, nil
}

// RunConversationTurn posts text to the thread, runs the assistant to
// completion and returns the newest assistant reply.
func (s *Service) RunConversationTurn(ctx context.Context, threadID, assistantID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errEmptyMessage
	}
	if err := s.remote.PostMessage(ctx, threadID, text); err != nil {
		return "", fmt.Errorf("post message: %w: %w", domain.ErrRemoteService, err)
	}

	handle, err := s.remote.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return "", fmt.Errorf("create run: %w: %w", domain.ErrRemoteService, err)
	}
	s.logger.Debug("Run created", "thread_id", threadID, "run_id", handle.RunID, "assistant_id", assistantID)

	if err := s.orchestrator.Await(ctx, handle); err != nil {
		return "", err
	}

	messages, err := s.remote.ListMessages(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("list messages: %w: %w", domain.ErrRemoteService, err)
	}
	if reply, ok := replyForRun(messages, handle.RunID); ok {
		return reply, nil
	}
	return "", ErrNoReply
}

// replyForRun picks the newest text reply produced by runID from a
// newest-first message list. Scanning stops at the first user message, which
// is the turn's own prompt; anything older belongs to earlier turns.
func replyForRun(messages []ThreadMessage, runID string) (string, bool) {
	for _, msg := range messages {
		if msg.Role != RoleAssistant {
			return "", false
		}
		if msg.RunID != "" && msg.RunID != runID {
			continue
		}
		if msg.Text != "" {
			return msg.Text, true
		}
	}
	return "", false
}

// Chat runs one turn for an integration chat. Turns for the same chat are
// serialized.
func (s *Service) Chat(ctx context.Context, integration, chatID, assistantID, text string) (*ChatResponse, error) {
	unlock, err := s.locks.lock(ctx, chatKey(integration, chatID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	threadID, err := s.GetOrCreateThread(ctx, integration, chatID, assistantID)
	if err != nil {
		return nil, err
	}
	reply, err := s.RunConversationTurn(ctx, threadID, assistantID, text)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{ChatID: chatID, ThreadID: threadID, Response: reply}, nil
}

// StartConversation ensures the chat has a thread and returns the greeting.
func (s *Service) StartConversation(ctx context.Context, integration, chatID, assistantID string) (*StartResponse, error) {
	unlock, err := s.locks.lock(ctx, chatKey(integration, chatID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	threadID, err := s.GetOrCreateThread(ctx, integration, chatID, assistantID)
	if err != nil {
		return nil, err
	}
	return &StartResponse{ChatID: chatID, ThreadID: threadID, Message: Greeting}, nil
}

// ResetConversation forgets the chat's thread. The next turn starts a new one.
func (s *Service) ResetConversation(ctx context.Context, integration, chatID string) error {
	unlock, err := s.locks.lock(ctx, chatKey(integration, chatID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.DeleteMapping(ctx, integration, chatID); err != nil {
		return err
	}
	s.logger.Info("Conversation reset", "integration", integration, "chat_id", chatID)
	return nil
}

// ListChats returns the chats of an integration, optionally filtered by assistant.
func (s *Service) ListChats(ctx context.Context, integration, assistantID string) ([]*domain.ConversationMapping, error) {
	if assistantID != "" {
		return s.repo.ListMappingsByAssistant(ctx, integration, assistantID)
	}
	return s.repo.ListMappings(ctx, integration)
}
