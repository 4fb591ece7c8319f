package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/assistant-bridge/internal/assistant"
)

// fakeRemote is a scripted RemoteService. GetRun returns states in order and
// repeats the last one; completed is returned when no script is set.
type fakeRemote struct {
	mu sync.Mutex

	states   []RunState
	getCalls int
	getErr   error

	submitted [][]ToolOutput

	threads   int
	threadErr error
	posted    []string
	runs      int
	replies   []ThreadMessage
	noReply   bool

	inFlight    int
	maxInFlight int
	turnDelay   time.Duration
}

func (f *fakeRemote) CreateAssistant(context.Context, assistant.Spec) (string, error) {
	return "asst_fake", nil
}

func (f *fakeRemote) UpdateAssistant(context.Context, string, assistant.Spec) error { return nil }

func (f *fakeRemote) UploadFile(_ context.Context, name string, _ []byte) (string, error) {
	return "file_" + name, nil
}

func (f *fakeRemote) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadErr != nil {
		return "", f.threadErr
	}
	f.threads++
	return fmt.Sprintf("thread_%d", f.threads), nil
}

func (f *fakeRemote) PostMessage(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.posted = append(f.posted, text)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.turnDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func (f *fakeRemote) CreateRun(_ context.Context, threadID, _ string) (RunHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return RunHandle{ThreadID: threadID, RunID: fmt.Sprintf("run_%d", f.runs)}, nil
}

func (f *fakeRemote) GetRun(context.Context, RunHandle) (RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return RunState{}, f.getErr
	}
	if len(f.states) == 0 {
		return RunState{Status: RunStatusCompleted}, nil
	}
	idx := f.getCalls - 1
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	return f.states[idx], nil
}

func (f *fakeRemote) SubmitToolOutputs(_ context.Context, _ RunHandle, outputs []ToolOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, append([]ToolOutput(nil), outputs...))
	return nil
}

func (f *fakeRemote) ListMessages(context.Context, string) ([]ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.noReply {
		return []ThreadMessage{{Role: RoleUser, Text: f.lastPosted()}}, nil
	}
	if f.replies != nil {
		return f.replies, nil
	}
	return []ThreadMessage{
		{Role: RoleAssistant, Text: "reply to: " + f.lastPosted()},
		{Role: RoleUser, Text: f.lastPosted()},
	}, nil
}

func (f *fakeRemote) lastPosted() string {
	if len(f.posted) == 0 {
		return ""
	}
	return f.posted[len(f.posted)-1]
}

func (f *fakeRemote) submissions() [][]ToolOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]ToolOutput(nil), f.submitted...)
}

func (f *fakeRemote) threadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads
}

func (f *fakeRemote) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}
