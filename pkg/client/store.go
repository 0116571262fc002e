// Package client holds the client-side half of the sync engine: an
// optimistic store with transactional rollback, a reconciliation listener
// that applies server events, and a reconnecting websocket client.
package client

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chatsync/chatsync/pkg/types"
)

// TransactionKind classifies an optimistic mutation.
type TransactionKind string

const (
	TxCreate TransactionKind = "create"
	TxUpdate TransactionKind = "update"
	TxDelete TransactionKind = "delete"
	TxMove   TransactionKind = "move"
)

// Transaction records one optimistic mutation with the pre-mutation
// snapshot of the affected record. Rollback is a pure data operation
// restoring the snapshot; no closures are captured. A nil snapshot means
// the record did not exist before the mutation.
type Transaction struct {
	ID       string
	Kind     TransactionKind
	RecordID string
	Time     time.Time

	prevConversation *types.Conversation
	prevProject      *types.Project
	isProject        bool
}

// Store is the client's denormalized view of conversations and projects.
// Mutations apply immediately; each returns a transaction ID the caller
// resolves with Commit or Rollback once the server answers.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*types.Conversation
	projects      map[string]*types.Project
	transactions  map[string]*Transaction
	unread        map[string]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*types.Conversation),
		projects:      make(map[string]*types.Project),
		transactions:  make(map[string]*Transaction),
		unread:        make(map[string]bool),
	}
}

func cloneConversation(c *types.Conversation) *types.Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.ProjectID != nil {
		pid := *c.ProjectID
		out.ProjectID = &pid
	}
	return &out
}

func cloneProject(p *types.Project) *types.Project {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// begin snapshots the current conversation value and registers the
// transaction. Caller holds the write lock.
func (s *Store) beginConversation(kind TransactionKind, recordID string) string {
	tx := &Transaction{
		ID:               ulid.Make().String(),
		Kind:             kind,
		RecordID:         recordID,
		Time:             time.Now(),
		prevConversation: cloneConversation(s.conversations[recordID]),
	}
	s.transactions[tx.ID] = tx
	return tx.ID
}

func (s *Store) beginProject(kind TransactionKind, recordID string) string {
	tx := &Transaction{
		ID:          ulid.Make().String(),
		Kind:        kind,
		RecordID:    recordID,
		Time:        time.Now(),
		prevProject: cloneProject(s.projects[recordID]),
		isProject:   true,
	}
	s.transactions[tx.ID] = tx
	return tx.ID
}

// CreateConversationOptimistic inserts a conversation before the server
// has confirmed it and returns the transaction ID.
func (s *Store) CreateConversationOptimistic(conv *types.Conversation) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := s.beginConversation(TxCreate, conv.ID)
	s.conversations[conv.ID] = cloneConversation(conv)
	return txID
}

// UpdateConversationOptimistic replaces a conversation's local copy.
func (s *Store) UpdateConversationOptimistic(conv *types.Conversation) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := s.beginConversation(TxUpdate, conv.ID)
	s.conversations[conv.ID] = cloneConversation(conv)
	return txID
}

// DeleteConversationOptimistic removes a conversation locally.
func (s *Store) DeleteConversationOptimistic(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := s.beginConversation(TxDelete, conversationID)
	delete(s.conversations, conversationID)
	return txID
}

// MoveConversationOptimistic refiles a conversation locally; a nil
// projectID unfiles it.
func (s *Store) MoveConversationOptimistic(conversationID string, projectID *string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := s.beginConversation(TxMove, conversationID)
	if conv, ok := s.conversations[conversationID]; ok {
		moved := cloneConversation(conv)
		if projectID != nil {
			pid := *projectID
			moved.ProjectID = &pid
		} else {
			moved.ProjectID = nil
		}
		s.conversations[conversationID] = moved
	}
	return txID
}

// CreateProjectOptimistic inserts a project locally.
func (s *Store) CreateProjectOptimistic(project *types.Project) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := s.beginProject(TxCreate, project.ID)
	s.projects[project.ID] = cloneProject(project)
	return txID
}

// UpdateProjectOptimistic replaces a project's local copy.
func (s *Store) UpdateProjectOptimistic(project *types.Project) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := s.beginProject(TxUpdate, project.ID)
	s.projects[project.ID] = cloneProject(project)
	return txID
}

// DeleteProjectOptimistic removes a project locally.
func (s *Store) DeleteProjectOptimistic(projectID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := s.beginProject(TxDelete, projectID)
	delete(s.projects, projectID)
	return txID
}

// CommitTransaction resolves a transaction keeping the optimistic value.
// Unknown or already-resolved IDs are a no-op, so commit and rollback can
// race without double effects: the first resolution wins.
func (s *Store) CommitTransaction(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transactions, txID)
}

// RollbackTransaction restores the snapshot captured when the transaction
// began, then removes it. A second call is a no-op.
func (s *Store) RollbackTransaction(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok {
		return
	}
	delete(s.transactions, txID)

	if tx.isProject {
		if tx.prevProject == nil {
			delete(s.projects, tx.RecordID)
		} else {
			s.projects[tx.RecordID] = cloneProject(tx.prevProject)
		}
		return
	}
	if tx.prevConversation == nil {
		delete(s.conversations, tx.RecordID)
	} else {
		s.conversations[tx.RecordID] = cloneConversation(tx.prevConversation)
	}
}

// PendingTransactions returns the number of unresolved transactions.
func (s *Store) PendingTransactions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}

// ApplyConversation replaces the local copy with an authoritative one and
// commits any pending transactions for that record: server-confirmed state
// supersedes the speculative value, so those transactions must never roll
// back over it.
func (s *Store) ApplyConversation(conv *types.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conv.ID] = cloneConversation(conv)
	s.commitPendingFor(conv.ID, false)
}

// ApplyProject replaces the local copy with an authoritative one.
func (s *Store) ApplyProject(project *types.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects[project.ID] = cloneProject(project)
	s.commitPendingFor(project.ID, true)
}

// RemoveConversation applies an authoritative delete.
func (s *Store) RemoveConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, conversationID)
	delete(s.unread, conversationID)
	s.commitPendingFor(conversationID, false)
}

// RemoveProject applies an authoritative delete, unfiling its
// conversations the way the server does.
func (s *Store) RemoveProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.projects, projectID)
	for id, conv := range s.conversations {
		if conv.ProjectID != nil && *conv.ProjectID == projectID {
			unfiled := cloneConversation(conv)
			unfiled.ProjectID = nil
			s.conversations[id] = unfiled
		}
	}
	s.commitPendingFor(projectID, true)
}

func (s *Store) commitPendingFor(recordID string, isProject bool) {
	for id, tx := range s.transactions {
		if tx.RecordID == recordID && tx.isProject == isProject {
			delete(s.transactions, id)
		}
	}
}

// SetUnread records the unread flag for a conversation.
func (s *Store) SetUnread(conversationID string, unread bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if unread {
		s.unread[conversationID] = true
	} else {
		delete(s.unread, conversationID)
	}
}

// HasUnread reports the unread flag for a conversation.
func (s *Store) HasUnread(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[conversationID]
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(conversationID string) (*types.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	return cloneConversation(conv), ok
}

// Project returns a copy of one project.
func (s *Store) Project(projectID string) (*types.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[projectID]
	return cloneProject(project), ok
}

// Conversations returns all conversations, most recently updated first.
func (s *Store) Conversations() []*types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, cloneConversation(conv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Updated > out[j].Time.Updated })
	return out
}

// Projects returns all projects sorted by creation time.
func (s *Store) Projects() []*types.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Project, 0, len(s.projects))
	for _, project := range s.projects {
		out = append(out, cloneProject(project))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Created < out[j].Time.Created })
	return out
}

// ConversationsInProject recomputes the project's conversation list from
// the raw map. Derived views are never stored, so they cannot drift from
// the optimistic state. A nil projectID selects unfiled conversations.
func (s *Store) ConversationsInProject(projectID *string) []*types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Conversation
	for _, conv := range s.conversations {
		switch {
		case projectID == nil && conv.ProjectID == nil:
			out = append(out, cloneConversation(conv))
		case projectID != nil && conv.ProjectID != nil && *conv.ProjectID == *projectID:
			out = append(out, cloneConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Updated > out[j].Time.Updated })
	return out
}

// ConversationCountByProject recomputes per-project conversation counts.
func (s *Store) ConversationCountByProject() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	for _, conv := range s.conversations {
		if conv.ProjectID != nil {
			out[*conv.ProjectID]++
		}
	}
	return out
}
