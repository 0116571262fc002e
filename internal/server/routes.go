package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/chatsync/internal/ws"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	// Realtime attachment points. The websocket handler does its own token
	// check during the handshake.
	r.Handle("/ws", ws.NewHandler(s.verifier, s.reg, s.cast, s.coord))
	r.Get("/event", s.events)

	// REST CRUD. Every mutation answers the caller with the authoritative
	// record and fans the same payload out to the user's other connections.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/conversation", func(r chi.Router) {
			r.Get("/", s.listConversations)
			r.Post("/", s.createConversation)

			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", s.getConversation)
				r.Patch("/", s.updateConversation)
				r.Delete("/", s.deleteConversation)
				r.Post("/move", s.moveConversation)
				r.Get("/message", s.listMessages)
			})
		})

		r.Route("/project", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Post("/", s.createProject)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.getProject)
				r.Patch("/", s.updateProject)
				r.Delete("/", s.deleteProject)
			})
		})
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.reg.Len(),
	})
}
