package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/assistant-bridge/internal/assistant"
	"github.com/sashabaranov/go-openai"
)

const (
	listMessagesLimit     = 20
	listMessagesOrder     = "desc"
	vectorStoreFilesLimit = 100
	vectorStoreNameBase   = "assistant-bridge resources"
)

var errEmptyRemoteID = errors.New("remote service returned an empty id")

// OpenAIService implements RemoteService on the OpenAI Assistants API.
type OpenAIService struct {
	client *openai.Client
	logger *slog.Logger
}

// OpenAIConfig holds connection settings for OpenAIService.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// NewOpenAIService creates an Assistants API client. An empty BaseURL keeps
// the library default.
func NewOpenAIService(cfg OpenAIConfig, logger *slog.Logger) *OpenAIService {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}
}

// CreateAssistant creates a new remote assistant.
func (s *OpenAIService) CreateAssistant(ctx context.Context, spec assistant.Spec) (string, error) {
	req, err := s.assistantRequest(ctx, spec)
	if err != nil {
		return "", err
	}
	created, err := s.client.CreateAssistant(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	if created.ID == "" {
		return "", errEmptyRemoteID
	}
	return created.ID, nil
}

// UpdateAssistant replaces the configuration of an existing assistant. Vector
// stores the assistant no longer references are deleted with their files.
func (s *OpenAIService) UpdateAssistant(ctx context.Context, assistantID string, spec assistant.Spec) error {
	previous, err := s.vectorStoreIDs(ctx, assistantID)
	if err != nil {
		return err
	}
	req, err := s.assistantRequest(ctx, spec)
	if err != nil {
		return err
	}
	if _, err := s.client.ModifyAssistant(ctx, assistantID, req); err != nil {
		return fmt.Errorf("modify assistant %s: %w", assistantID, err)
	}

	keepStores := make(map[string]bool)
	if req.ToolResources != nil && req.ToolResources.FileSearch != nil {
		for _, id := range req.ToolResources.FileSearch.VectorStoreIDs {
			keepStores[id] = true
		}
	}
	keepFiles := make(map[string]bool, len(spec.FileIDs))
	for _, id := range spec.FileIDs {
		keepFiles[id] = true
	}
	for _, id := range previous {
		if !keepStores[id] {
			s.deleteVectorStore(ctx, id, keepFiles)
		}
	}
	return nil
}

func (s *OpenAIService) vectorStoreIDs(ctx context.Context, assistantID string) ([]string, error) {
	current, err := s.client.RetrieveAssistant(ctx, assistantID)
	if err != nil {
		return nil, fmt.Errorf("retrieve assistant %s: %w", assistantID, err)
	}
	if current.ToolResources == nil || current.ToolResources.FileSearch == nil {
		return nil, nil
	}
	return current.ToolResources.FileSearch.VectorStoreIDs, nil
}

// deleteVectorStore removes a replaced vector store and its uploaded files.
// Failures are logged; a leftover store does not affect the new assistant.
func (s *OpenAIService) deleteVectorStore(ctx context.Context, storeID string, keepFiles map[string]bool) {
	limit := vectorStoreFilesLimit
	files, err := s.client.ListVectorStoreFiles(ctx, storeID, openai.Pagination{Limit: &limit})
	if err != nil {
		s.logger.Warn("Failed to list files of replaced vector store", "vector_store_id", storeID, "error", err)
	}
	for _, file := range files.VectorStoreFiles {
		if keepFiles[file.ID] {
			continue
		}
		if err := s.client.DeleteFile(ctx, file.ID); err != nil {
			s.logger.Warn("Failed to delete replaced resource file", "file_id", file.ID, "error", err)
		}
	}
	if _, err := s.client.DeleteVectorStore(ctx, storeID); err != nil {
		s.logger.Warn("Failed to delete replaced vector store", "vector_store_id", storeID, "error", err)
		return
	}
	s.logger.Info("Deleted replaced vector store", "vector_store_id", storeID, "files", len(files.VectorStoreFiles))
}

// UploadFile uploads a resource for use by assistants.
func (s *OpenAIService) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := s.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("upload file %s: %w", name, err)
	}
	if file.ID == "" {
		return "", errEmptyRemoteID
	}
	return file.ID, nil
}

// CreateThread creates an empty thread.
func (s *OpenAIService) CreateThread(ctx context.Context) (string, error) {
	thread, err := s.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if thread.ID == "" {
		return "", errEmptyRemoteID
	}
	return thread.ID, nil
}

// PostMessage appends a user message to a thread.
func (s *OpenAIService) PostMessage(ctx context.Context, threadID, text string) error {
	_, err := s.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("post message to thread %s: %w", threadID, err)
	}
	return nil
}

// CreateRun starts assistantID on threadID.
func (s *OpenAIService) CreateRun(ctx context.Context, threadID, assistantID string) (RunHandle, error) {
	run, err := s.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return RunHandle{}, fmt.Errorf("create run on thread %s: %w", threadID, err)
	}
	if run.ID == "" {
		return RunHandle{}, errEmptyRemoteID
	}
	return RunHandle{ThreadID: threadID, RunID: run.ID}, nil
}

// GetRun returns the current state of a run.
func (s *OpenAIService) GetRun(ctx context.Context, handle RunHandle) (RunState, error) {
	run, err := s.client.RetrieveRun(ctx, handle.ThreadID, handle.RunID)
	if err != nil {
		return RunState{}, fmt.Errorf("retrieve run %s: %w", handle.RunID, err)
	}
	return runStateFromOpenAI(run), nil
}

// SubmitToolOutputs answers the pending tool calls of a run.
func (s *OpenAIService) SubmitToolOutputs(ctx context.Context, handle RunHandle, outputs []ToolOutput) error {
	req := openai.SubmitToolOutputsRequest{
		ToolOutputs: make([]openai.ToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{
			ToolCallID: out.ToolCallID,
			Output:     out.Output,
		})
	}
	if _, err := s.client.SubmitToolOutputs(ctx, handle.ThreadID, handle.RunID, req); err != nil {
		return fmt.Errorf("submit tool outputs for run %s: %w", handle.RunID, err)
	}
	return nil
}

// ListMessages returns the most recent thread messages, newest first.
func (s *OpenAIService) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	limit := listMessagesLimit
	order := listMessagesOrder
	list, err := s.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages on thread %s: %w", threadID, err)
	}

	messages := make([]ThreadMessage, 0, len(list.Messages))
	for _, msg := range list.Messages {
		messages = append(messages, threadMessageFromOpenAI(msg))
	}
	return messages, nil
}

// assistantRequest converts spec into the wire request. With retrieval
// enabled and files attached, the files are indexed into a vector store that
// backs the file_search tool.
func (s *OpenAIService) assistantRequest(ctx context.Context, spec assistant.Spec) (openai.AssistantRequest, error) {
	name := spec.Name
	instructions := spec.Instructions
	req := openai.AssistantRequest{
		Model:        spec.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        make([]openai.AssistantTool, 0, len(spec.Tools)+1),
	}

	for _, schema := range spec.Tools {
		req.Tools = append(req.Tools, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Function.Name,
				Description: schema.Function.Description,
				Parameters:  schema.Function.Parameters,
			},
		})
	}

	if !spec.Retrieval {
		return req, nil
	}
	req.Tools = append(req.Tools, openai.AssistantTool{Type: openai.AssistantToolTypeFileSearch})
	if len(spec.FileIDs) == 0 {
		return req, nil
	}

	store, err := s.client.CreateVectorStore(ctx, openai.VectorStoreRequest{
		Name:    fmt.Sprintf("%s %s", vectorStoreNameBase, time.Now().UTC().Format(time.RFC3339)),
		FileIDs: spec.FileIDs,
	})
	if err != nil {
		return openai.AssistantRequest{}, fmt.Errorf("create vector store: %w", err)
	}
	s.logger.Info("Created vector store for assistant resources", "vector_store_id", store.ID, "files", len(spec.FileIDs))
	req.ToolResources = &openai.AssistantToolResource{
		FileSearch: &openai.AssistantToolFileSearch{VectorStoreIDs: []string{store.ID}},
	}
	return req, nil
}

func runStateFromOpenAI(run openai.Run) RunState {
	state := RunState{Status: RunStatus(run.Status)}
	if run.LastError != nil {
		state.LastError = run.LastError.Message
	}
	if run.RequiredAction != nil && run.RequiredAction.SubmitToolOutputs != nil {
		for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			state.ToolCalls = append(state.ToolCalls, ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
	}
	return state
}

func threadMessageFromOpenAI(msg openai.Message) ThreadMessage {
	var text strings.Builder
	for _, content := range msg.Content {
		if content.Text == nil {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(content.Text.Value)
	}
	return ThreadMessage{
		ID:        msg.ID,
		RunID:     derefString(msg.RunID),
		Role:      Role(msg.Role),
		Text:      text.String(),
		CreatedAt: time.Unix(int64(msg.CreatedAt), 0).UTC(),
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
