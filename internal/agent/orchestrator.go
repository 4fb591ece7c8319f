package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/assistant-bridge/internal/config"
	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/ashureev/assistant-bridge/internal/tools"
)

// ToolLookup resolves tool names to functions. *tools.Registry implements it.
type ToolLookup interface {
	Lookup(name string) (tools.Func, bool)
}

// Orchestrator drives a run to a terminal state, answering tool calls on the way.
type Orchestrator struct {
	remote RemoteService
	tools  ToolLookup
	cfg    Config
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator. Zero config fields take defaults.
func NewOrchestrator(remote RemoteService, lookup ToolLookup, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPolls < 0 {
		cfg.MaxPolls = def.MaxPolls
	}
	if cfg.UnregisteredToolPolicy == "" {
		cfg.UnregisteredToolPolicy = def.UnregisteredToolPolicy
	}
	return &Orchestrator{
		remote: remote,
		tools:  lookup,
		cfg:    cfg,
		logger: logger,
	}
}

// Await polls the run until it completes. It returns nil on completion,
// a *RunFailedError for any other terminal state, ErrRunTimeout when the poll
// ceiling is hit, or ctx.Err() if ctx ends first. Abandoning a run does not
// cancel it remotely.
func (o *Orchestrator) Await(ctx context.Context, handle RunHandle) error {
	for polls := 0; ; polls++ {
		if o.cfg.MaxPolls > 0 && polls >= o.cfg.MaxPolls {
			o.logger.Warn("Run exceeded poll ceiling",
				"thread_id", handle.ThreadID,
				"run_id", handle.RunID,
				"polls", polls,
			)
			return fmt.Errorf("%w after %d polls", ErrRunTimeout, polls)
		}

		state, err := o.remote.GetRun(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("get run %s: %w: %w", handle.RunID, domain.ErrRemoteService, err)
		}

		switch state.Status {
		case RunStatusCompleted:
			o.logger.Debug("Run completed", "run_id", handle.RunID, "polls", polls+1)
			return nil
		case RunStatusRequiresAction:
			if err := o.answerToolCalls(ctx, handle, state.ToolCalls); err != nil {
				return err
			}
		case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		default:
			if state.Status.IsTerminal() {
				return &RunFailedError{Status: state.Status, Reason: state.LastError}
			}
			o.logger.Warn("Unknown run status, continuing to poll",
				"run_id", handle.RunID,
				"status", state.Status,
			)
		}

		if err := sleepContext(ctx, o.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// answerToolCalls invokes every pending call and submits the collected outputs
// in one request.
func (o *Orchestrator) answerToolCalls(ctx context.Context, handle RunHandle, calls []ToolCall) error {
	outputs := make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		output, ok := o.invoke(ctx, call)
		if !ok {
			continue
		}
		outputs = append(outputs, ToolOutput{ToolCallID: call.ID, Output: output})
	}

	if len(outputs) == 0 {
		return nil
	}
	if err := o.remote.SubmitToolOutputs(ctx, handle, outputs); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("submit tool outputs for run %s: %w: %w", handle.RunID, domain.ErrRemoteService, err)
	}
	o.logger.Info("Submitted tool outputs", "run_id", handle.RunID, "count", len(outputs))
	return nil
}

// invoke runs one tool call. The boolean is false when no output should be
// submitted for the call.
func (o *Orchestrator) invoke(ctx context.Context, call ToolCall) (string, bool) {
	fn, found := o.lookup(call.Name)
	if !found {
		o.logger.Warn("Tool call for unregistered function",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"policy", o.cfg.UnregisteredToolPolicy,
		)
		if o.cfg.UnregisteredToolPolicy == config.ToolPolicyErrorOutput {
			return errorOutput(fmt.Sprintf("%s: %s", domain.ErrUnregisteredTool, call.Name)), true
		}
		return "", false
	}

	args := o.parseArguments(call)
	result, err := callTool(ctx, fn, args)
	if err != nil {
		o.logger.Warn("Tool function failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		return errorOutput(err.Error()), true
	}

	data, err := json.Marshal(result)
	if err != nil {
		o.logger.Warn("Tool result is not serializable", "tool", call.Name, "error", err)
		return errorOutput("tool result is not serializable: " + err.Error()), true
	}
	return string(data), true
}

func (o *Orchestrator) lookup(name string) (tools.Func, bool) {
	if o.tools == nil {
		return nil, false
	}
	return o.tools.Lookup(name)
}

// parseArguments decodes the call arguments into a map. Malformed input is
// logged and replaced by an empty map.
func (o *Orchestrator) parseArguments(call ToolCall) map[string]any {
	args := map[string]any{}
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		o.logger.Warn("Malformed tool arguments, calling with no arguments",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"error", fmt.Errorf("%w: %v", domain.ErrMalformedToolArguments, err),
		)
		return map[string]any{}
	}
	return args
}

// callTool invokes fn, converting a panic into an error.
func callTool(ctx context.Context, fn tools.Func, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return fn(ctx, args)
}

func errorOutput(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
