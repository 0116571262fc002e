// Package chat provides the persistence collaborator for conversations,
// projects and messages. The sync engine consumes it through these methods
// and never touches storage keys directly.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chatsync/chatsync/internal/storage"
	"github.com/chatsync/chatsync/pkg/types"
)

// Service manages conversation, project and message persistence.
type Service struct {
	storage *storage.Storage
}

// NewService creates a chat service over a storage root.
func NewService(store *storage.Storage) *Service {
	return &Service{storage: store}
}

// CreateConversation creates a conversation for a user, optionally filed
// under a project.
func (s *Service) CreateConversation(ctx context.Context, userID, title string, projectID *string) (*types.Conversation, error) {
	if title == "" {
		title = "New Conversation"
	}

	now := time.Now().UnixMilli()
	conv := &types.Conversation{
		ID:        generateID(),
		UserID:    userID,
		ProjectID: projectID,
		Title:     title,
		Time:      types.ConversationTime{Created: now, Updated: now},
	}

	if err := s.storage.Put(ctx, []string{"conversation", userID, conv.ID}, conv); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves one conversation of a user.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*types.Conversation, error) {
	var conv types.Conversation
	if err := s.storage.Get(ctx, []string{"conversation", userID, conversationID}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// RenameConversation updates a conversation's title.
func (s *Service) RenameConversation(ctx context.Context, userID, conversationID, title string) (*types.Conversation, error) {
	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	conv.Title = title
	conv.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, []string{"conversation", userID, conv.ID}, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// MoveConversation files a conversation under a project, or unfiles it when
// projectID is nil. A non-nil project must exist.
func (s *Service) MoveConversation(ctx context.Context, userID, conversationID string, projectID *string) (*types.Conversation, error) {
	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	if projectID != nil {
		if _, err := s.GetProject(ctx, userID, *projectID); err != nil {
			return nil, fmt.Errorf("target project: %w", err)
		}
	}

	conv.ProjectID = projectID
	conv.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, []string{"conversation", userID, conv.ID}, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, []string{"conversation", userID, conversationID}); err != nil {
		return err
	}

	msgs, _ := s.Messages(ctx, conversationID)
	for _, msg := range msgs {
		s.storage.Delete(ctx, []string{"message", conversationID, msg.ID})
	}
	return nil
}

// ListConversations returns a user's conversations, most recently updated
// first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	var convs []*types.Conversation
	err := s.storage.Scan(ctx, []string{"conversation", userID}, func(key string, data json.RawMessage) error {
		var conv types.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			return err
		}
		convs = append(convs, &conv)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].Time.Updated > convs[j].Time.Updated
	})
	return convs, nil
}

// CreateProject creates a project for a user.
func (s *Service) CreateProject(ctx context.Context, userID, name string) (*types.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("project name required")
	}

	now := time.Now().UnixMilli()
	project := &types.Project{
		ID:     generateID(),
		UserID: userID,
		Name:   name,
		Time:   types.ProjectTime{Created: now, Updated: now},
	}

	if err := s.storage.Put(ctx, []string{"project", userID, project.ID}, project); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	return project, nil
}

// GetProject retrieves one project of a user.
func (s *Service) GetProject(ctx context.Context, userID, projectID string) (*types.Project, error) {
	var project types.Project
	if err := s.storage.Get(ctx, []string{"project", userID, projectID}, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// RenameProject updates a project's name.
func (s *Service) RenameProject(ctx context.Context, userID, projectID, name string) (*types.Project, error) {
	project, err := s.GetProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	project.Name = name
	project.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, []string{"project", userID, project.ID}, project); err != nil {
		return nil, err
	}
	return project, nil
}

// DeleteProject removes a project and unfiles its conversations; the
// conversations themselves survive.
func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) error {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, []string{"project", userID, projectID}); err != nil {
		return err
	}

	convs, err := s.ListConversations(ctx, userID)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		if conv.ProjectID != nil && *conv.ProjectID == projectID {
			conv.ProjectID = nil
			conv.Time.Updated = time.Now().UnixMilli()
			if err := s.storage.Put(ctx, []string{"conversation", userID, conv.ID}, conv); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListProjects returns a user's projects sorted by creation time.
func (s *Service) ListProjects(ctx context.Context, userID string) ([]*types.Project, error) {
	var projects []*types.Project
	err := s.storage.Scan(ctx, []string{"project", userID}, func(key string, data json.RawMessage) error {
		var project types.Project
		if err := json.Unmarshal(data, &project); err != nil {
			return err
		}
		projects = append(projects, &project)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].Time.Created < projects[j].Time.Created
	})
	return projects, nil
}

// PersistUserMessage validates and stores an inbound user message, bumping
// the conversation's updated time.
func (s *Service) PersistUserMessage(ctx context.Context, conversationID, userID, content string, attachments []types.Attachment) (*types.Message, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil, fmt.Errorf("message content required")
	}

	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}

	msg := &types.Message{
		ID:             generateID(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        content,
		Attachments:    attachments,
		Time:           types.MessageTime{Created: time.Now().UnixMilli()},
	}

	if err := s.storage.Put(ctx, []string{"message", conversationID, msg.ID}, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	conv.Time.Updated = msg.Time.Created
	if err := s.storage.Put(ctx, []string{"conversation", userID, conv.ID}, conv); err != nil {
		return nil, err
	}
	return msg, nil
}

// PersistAssistantMessage stores a completed assistant reply.
func (s *Service) PersistAssistantMessage(ctx context.Context, conversationID, content string) (*types.Message, error) {
	msg := &types.Message{
		ID:             generateID(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        content,
		Time:           types.MessageTime{Created: time.Now().UnixMilli()},
	}

	if err := s.storage.Put(ctx, []string{"message", conversationID, msg.ID}, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// Messages returns all messages of a conversation in creation order.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]*types.Message, error) {
	var msgs []*types.Message
	err := s.storage.Scan(ctx, []string{"message", conversationID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		msgs = append(msgs, &msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// ULIDs sort lexicographically by creation time.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

// generateID generates a new ULID.
func generateID() string {
	return ulid.Make().String()
}
