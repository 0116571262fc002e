package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/chatsync/internal/storage"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(storage.New(t.TempDir()))
}

func TestService_ConversationLifecycle(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "Research", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "alice", conv.UserID)
	assert.Nil(t, conv.ProjectID)

	got, err := s.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Research", got.Title)

	renamed, err := s.RenameConversation(ctx, "alice", conv.ID, "Notes")
	require.NoError(t, err)
	assert.Equal(t, "Notes", renamed.Title)

	require.NoError(t, s.DeleteConversation(ctx, "alice", conv.ID))
	_, err = s.GetConversation(ctx, "alice", conv.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_MoveConversation(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	project, err := s.CreateProject(ctx, "alice", "Work")
	require.NoError(t, err)

	conv, err := s.CreateConversation(ctx, "alice", "Standup", nil)
	require.NoError(t, err)

	moved, err := s.MoveConversation(ctx, "alice", conv.ID, &project.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.ProjectID)
	assert.Equal(t, project.ID, *moved.ProjectID)

	// Moving into a project that does not exist fails.
	ghost := "01GHOSTPROJECT"
	_, err = s.MoveConversation(ctx, "alice", conv.ID, &ghost)
	assert.Error(t, err)

	// Unfile.
	moved, err = s.MoveConversation(ctx, "alice", conv.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, moved.ProjectID)
}

func TestService_DeleteProjectUnfilesConversations(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	project, err := s.CreateProject(ctx, "alice", "Work")
	require.NoError(t, err)

	conv, err := s.CreateConversation(ctx, "alice", "Standup", &project.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, "alice", project.ID))

	got, err := s.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProjectID, "conversation should survive unfiled")
}

func TestService_PersistMessages(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "Chat", nil)
	require.NoError(t, err)

	userMsg, err := s.PersistUserMessage(ctx, conv.ID, "alice", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "user", userMsg.Role)

	asstMsg, err := s.PersistAssistantMessage(ctx, conv.ID, "hi there")
	require.NoError(t, err)
	assert.Equal(t, "assistant", asstMsg.Role)

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, userMsg.ID, msgs[0].ID)
	assert.Equal(t, asstMsg.ID, msgs[1].ID)
}

func TestService_PersistUserMessageValidation(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "Chat", nil)
	require.NoError(t, err)

	// Empty content with no attachments is rejected.
	_, err = s.PersistUserMessage(ctx, conv.ID, "alice", "   ", nil)
	assert.Error(t, err)

	// Unknown conversation is rejected before any write.
	_, err = s.PersistUserMessage(ctx, "no-such-conv", "alice", "hi", nil)
	assert.Error(t, err)

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestService_ListConversationsOrdering(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, "alice", "First", nil)
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "alice", "Second", nil)
	require.NoError(t, err)

	// Activity bumps the first conversation to the top.
	time.Sleep(5 * time.Millisecond)
	_, err = s.PersistUserMessage(ctx, first.ID, "alice", "ping", nil)
	require.NoError(t, err)

	convs, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, first.ID, convs[0].ID)
}
