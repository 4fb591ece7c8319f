package agent

import (
	"context"

	"github.com/ashureev/assistant-bridge/internal/assistant"
)

// RemoteService defines the remote assistant service used by the bridge.
// It is implemented by OpenAIService.
type RemoteService interface {
	assistant.Remote

	// CreateThread creates an empty conversation thread.
	CreateThread(ctx context.Context) (string, error)

	// PostMessage appends a user message to a thread.
	PostMessage(ctx context.Context, threadID, text string) error

	// CreateRun starts the assistant on a thread.
	CreateRun(ctx context.Context, threadID, assistantID string) (RunHandle, error)

	// GetRun returns the current state of a run.
	GetRun(ctx context.Context, handle RunHandle) (RunState, error)

	// SubmitToolOutputs answers the pending tool calls of a run.
	SubmitToolOutputs(ctx context.Context, handle RunHandle, outputs []ToolOutput) error

	// ListMessages returns the thread messages, newest first.
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}

// Ensure OpenAIService implements RemoteService.
var _ RemoteService = (*OpenAIService)(nil)
