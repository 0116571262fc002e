package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/chatsync/internal/event"
)

type createConversationRequest struct {
	Title     string  `json:"title"`
	ProjectID *string `json:"projectID,omitempty"`
}

type updateConversationRequest struct {
	Title string `json:"title"`
}

type moveConversationRequest struct {
	ProjectID *string `json:"projectID"`
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	conv, err := s.chat.CreateConversation(r.Context(), userID(r.Context()), req.Title, req.ProjectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.broadcastToOthers(r, event.Event{
		Type: event.ConversationCreated,
		Data: event.ConversationCreatedData{Conversation: conv},
	})
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.chat.ListConversations(r.Context(), userID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.chat.GetConversation(r.Context(), userID(r.Context()), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) updateConversation(w http.ResponseWriter, r *http.Request) {
	var req updateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "title required")
		return
	}

	conv, err := s.chat.RenameConversation(r.Context(), userID(r.Context()), chi.URLParam(r, "conversationID"), req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.broadcastToOthers(r, event.Event{
		Type: event.ConversationUpdated,
		Data: event.ConversationUpdatedData{Conversation: conv},
	})
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) moveConversation(w http.ResponseWriter, r *http.Request) {
	var req moveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	conv, err := s.chat.MoveConversation(r.Context(), userID(r.Context()), chi.URLParam(r, "conversationID"), req.ProjectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.broadcastToOthers(r, event.Event{
		Type: event.ConversationMoved,
		Data: event.ConversationMovedData{ConversationID: conv.ID, ProjectID: conv.ProjectID},
	})
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := s.chat.DeleteConversation(r.Context(), userID(r.Context()), conversationID); err != nil {
		writeServiceError(w, err)
		return
	}

	s.broadcastToOthers(r, event.Event{
		Type: event.ConversationDeleted,
		Data: event.ConversationDeletedData{ConversationID: conversationID},
	})
	writeSuccess(w)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	// Ownership check before exposing messages.
	if _, err := s.chat.GetConversation(r.Context(), userID(r.Context()), conversationID); err != nil {
		writeServiceError(w, err)
		return
	}

	msgs, err := s.chat.Messages(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// broadcastToOthers delivers a mutation event to the caller's other
// connections and mirrors it onto the process bus for SSE listeners. The
// origin connection is excluded: it updates itself from the HTTP response
// it is about to receive.
func (s *Server) broadcastToOthers(r *http.Request, ev event.Event) {
	s.cast.ToUserExcept(userID(r.Context()), originConnID(r), ev)
	event.Publish(ev)
}
