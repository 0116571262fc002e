package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/chatsync/internal/event"
)

type projectRequest struct {
	Name string `json:"name"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	project, err := s.chat.CreateProject(r.Context(), userID(r.Context()), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.broadcastToOthers(r, event.Event{
		Type: event.ProjectCreated,
		Data: event.ProjectCreatedData{Project: project},
	})
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.chat.ListProjects(r.Context(), userID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.chat.GetProject(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name required")
		return
	}

	project, err := s.chat.RenameProject(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.broadcastToOthers(r, event.Event{
		Type: event.ProjectUpdated,
		Data: event.ProjectUpdatedData{Project: project},
	})
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.chat.DeleteProject(r.Context(), userID(r.Context()), projectID); err != nil {
		writeServiceError(w, err)
		return
	}

	s.broadcastToOthers(r, event.Event{
		Type: event.ProjectDeleted,
		Data: event.ProjectDeletedData{ProjectID: projectID},
	})
	writeSuccess(w)
}
