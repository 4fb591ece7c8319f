package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/ashureev/assistant-bridge/internal/store"
	"github.com/ashureev/assistant-bridge/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, remote *fakeRemote) (*Service, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "mappings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	orch := NewOrchestrator(remote, tools.NewRegistry(), testConfig(), nil)
	return NewService(repo, remote, orch, nil), repo
}

func TestGetOrCreateThreadReusesExistingThread(t *testing.T) {
	remote := &fakeRemote{}
	svc, repo := newTestService(t, remote)
	ctx := context.Background()

	first, err := svc.GetOrCreateThread(ctx, "telegram", "42", "asst_1")
	require.NoError(t, err)
	second, err := svc.GetOrCreateThread(ctx, "telegram", "42", "asst_1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, remote.threadCount())

	mapping, err := repo.GetMappingByChat(ctx, "telegram", "42")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, first, mapping.ThreadID)
	assert.Equal(t, "asst_1", mapping.AssistantID)
}

func TestGetOrCreateThreadSeparatesIntegrations(t *testing.T) {
	remote := &fakeRemote{}
	svc, _ := newTestService(t, remote)
	ctx := context.Background()

	a, err := svc.GetOrCreateThread(ctx, "telegram", "42", "asst_1")
	require.NoError(t, err)
	b, err := svc.GetOrCreateThread(ctx, "web", "42", "asst_1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, remote.threadCount())
}

func TestGetOrCreateThreadRebindsAssistant(t *testing.T) {
	remote := &fakeRemote{}
	svc, repo := newTestService(t, remote)
	ctx := context.Background()

	thread, err := svc.GetOrCreateThread(ctx, "web", "c1", "asst_old")
	require.NoError(t, err)
	again, err := svc.GetOrCreateThread(ctx, "web", "c1", "asst_new")
	require.NoError(t, err)
	assert.Equal(t, thread, again)

	mapping, err := repo.GetMappingByChat(ctx, "web", "c1")
	require.NoError(t, err)
	assert.Equal(t, "asst_new", mapping.AssistantID)
}

func TestGetOrCreateThreadRemoteFailure(t *testing.T) {
	remote := &fakeRemote{threadErr: errors.New("unauthorized")}
	svc, repo := newTestService(t, remote)

	_, err := svc.GetOrCreateThread(context.Background(), "web", "c1", "asst_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRemoteService))

	mapping, err := repo.GetMappingByChat(context.Background(), "web", "c1")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestRunConversationTurnReturnsNewestAssistantText(t *testing.T) {
	remote := &fakeRemote{replies: []ThreadMessage{
		{Role: RoleAssistant, Text: "newest"},
		{Role: RoleUser, Text: "question"},
		{Role: RoleAssistant, Text: "older"},
	}}
	svc, _ := newTestService(t, remote)

	reply, err := svc.RunConversationTurn(context.Background(), "thread_1", "asst_1", "question")
	require.NoError(t, err)
	assert.Equal(t, "newest", reply)
	assert.Equal(t, []string{"question"}, remote.posted)
}

func TestRunConversationTurnIgnoresEarlierTurns(t *testing.T) {
	tests := []struct {
		name    string
		replies []ThreadMessage
		want    string
	}{
		{
			name: "empty reply before previous turn",
			replies: []ThreadMessage{
				{Role: RoleAssistant, Text: ""},
				{Role: RoleUser, Text: "second question"},
				{Role: RoleAssistant, Text: "answer to first question"},
			},
		},
		{
			name: "reply from another run",
			replies: []ThreadMessage{
				{Role: RoleAssistant, RunID: "run_0", Text: "stale"},
			},
		},
		{
			name: "own run after stale run",
			replies: []ThreadMessage{
				{Role: RoleAssistant, RunID: "run_1", Text: ""},
				{Role: RoleAssistant, RunID: "run_1", Text: "fresh"},
				{Role: RoleAssistant, RunID: "run_0", Text: "stale"},
			},
			want: "fresh",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{replies: tt.replies}
			svc, _ := newTestService(t, remote)

			reply, err := svc.RunConversationTurn(context.Background(), "thread_1", "asst_1", "second question")
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrNoReply)
				assert.Empty(t, reply)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply)
		})
	}
}

func TestRunConversationTurnNoReply(t *testing.T) {
	remote := &fakeRemote{noReply: true}
	svc, _ := newTestService(t, remote)

	_, err := svc.RunConversationTurn(context.Background(), "thread_1", "asst_1", "hello")
	assert.True(t, errors.Is(err, ErrNoReply))
}

func TestRunConversationTurnRejectsEmptyText(t *testing.T) {
	remote := &fakeRemote{}
	svc, _ := newTestService(t, remote)

	_, err := svc.RunConversationTurn(context.Background(), "thread_1", "asst_1", "   ")
	assert.ErrorIs(t, err, errEmptyMessage)
	assert.Empty(t, remote.posted)
}

func TestRunConversationTurnRunFailure(t *testing.T) {
	remote := &fakeRemote{states: []RunState{{Status: RunStatusFailed, LastError: "server_error"}}}
	svc, _ := newTestService(t, remote)

	_, err := svc.RunConversationTurn(context.Background(), "thread_1", "asst_1", "hello")
	assert.True(t, errors.Is(err, ErrRunFailed))
}

func TestChatSerializesTurnsPerChat(t *testing.T) {
	remote := &fakeRemote{turnDelay: 5 * time.Millisecond}
	svc, _ := newTestService(t, remote)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Chat(ctx, "web", "same-chat", "asst_1", fmt.Sprintf("msg %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, remote.peakInFlight())
	assert.Equal(t, 1, remote.threadCount())
	assert.Equal(t, 0, svc.locks.size())
}

func TestChatReturnsReplyAndThread(t *testing.T) {
	remote := &fakeRemote{}
	svc, _ := newTestService(t, remote)

	resp, err := svc.Chat(context.Background(), "web", "c1", "asst_1", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.ChatID)
	assert.Equal(t, "thread_1", resp.ThreadID)
	assert.Equal(t, "reply to: hi there", resp.Response)
}

func TestStartAndResetConversation(t *testing.T) {
	remote := &fakeRemote{}
	svc, _ := newTestService(t, remote)
	ctx := context.Background()

	start, err := svc.StartConversation(ctx, "web", "c1", "asst_1")
	require.NoError(t, err)
	assert.Equal(t, Greeting, start.Message)
	assert.Equal(t, "thread_1", start.ThreadID)

	require.NoError(t, svc.ResetConversation(ctx, "web", "c1"))
	require.NoError(t, svc.ResetConversation(ctx, "web", "c1"))

	restart, err := svc.StartConversation(ctx, "web", "c1", "asst_1")
	require.NoError(t, err)
	assert.Equal(t, "thread_2", restart.ThreadID)
}

func TestListChats(t *testing.T) {
	remote := &fakeRemote{}
	svc, _ := newTestService(t, remote)
	ctx := context.Background()

	_, err := svc.GetOrCreateThread(ctx, "web", "a", "asst_1")
	require.NoError(t, err)
	_, err = svc.GetOrCreateThread(ctx, "web", "b", "asst_2")
	require.NoError(t, err)
	_, err = svc.GetOrCreateThread(ctx, "slack", "c", "asst_1")
	require.NoError(t, err)

	all, err := svc.ListChats(ctx, "web", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byAssistant, err := svc.ListChats(ctx, "web", "asst_1")
	require.NoError(t, err)
	require.Len(t, byAssistant, 1)
	assert.Equal(t, "a", byAssistant[0].ChatID)
}

func TestChatLocksReleaseOnCancel(t *testing.T) {
	locks := newChatLocks()
	unlock, err := locks.lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, locks.size())
}
