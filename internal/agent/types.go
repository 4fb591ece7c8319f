// Package agent runs conversations against the remote assistant service.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/assistant-bridge/internal/config"
)

var (
	// ErrRunFailed is returned when a run ends in a non-successful terminal state.
	ErrRunFailed = errors.New("run failed")
	// ErrRunTimeout is returned when a run does not finish within the poll ceiling.
	ErrRunTimeout = errors.New("run timed out")
	// ErrNoReply is returned when a completed run left no assistant message.
	ErrNoReply = errors.New("no assistant reply")
)

// RunStatus is the lifecycle state of a run as reported by the remote service.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// IsTerminal reports whether no further transitions are expected.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	default:
		return false
	}
}

// RunHandle identifies a run on a thread.
type RunHandle struct {
	ThreadID string
	RunID    string
}

// ToolCall is a function invocation requested by a run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolOutput answers a ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// RunState is one observation of a run.
type RunState struct {
	Status    RunStatus
	ToolCalls []ToolCall
	// LastError carries the remote failure reason, if any.
	LastError string
}

// Role of a thread message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ThreadMessage is a message stored on a thread.
type ThreadMessage struct {
	ID        string
	RunID     string
	Role      Role
	Text      string
	CreatedAt time.Time
}

// RunFailedError describes a run that ended unsuccessfully.
type RunFailedError struct {
	Status RunStatus
	Reason string
}

func (e *RunFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: status %s", ErrRunFailed, e.Status)
	}
	return fmt.Sprintf("%s: status %s: %s", ErrRunFailed, e.Status, e.Reason)
}

// Unwrap lets errors.Is match ErrRunFailed.
func (e *RunFailedError) Unwrap() error {
	return ErrRunFailed
}

// StartRequest starts or resumes a conversation.
type StartRequest struct {
	ChatID string `json:"chat_id"`
}

// StartResponse is returned by the start endpoint.
type StartResponse struct {
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ChatRequest represents a chat request from an integration.
type ChatRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// ChatResponse represents the assistant reply to a ChatRequest.
type ChatResponse struct {
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id"`
	Response string `json:"response"`
}

// Config holds orchestration configuration.
type Config struct {
	PollInterval           time.Duration
	MaxPolls               int
	UnregisteredToolPolicy string
}

// DefaultConfig returns default orchestration configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:           2 * time.Second,
		MaxPolls:               300,
		UnregisteredToolPolicy: config.ToolPolicySkip,
	}
}
