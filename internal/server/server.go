// Package server provides the HTTP surface: REST CRUD for conversations
// and projects, the websocket endpoint, and the SSE event mirror.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/chatsync/chatsync/internal/broadcast"
	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/logging"
	"github.com/chatsync/chatsync/internal/provider"
	"github.com/chatsync/chatsync/internal/registry"
	"github.com/chatsync/chatsync/internal/stream"
	"github.com/chatsync/chatsync/internal/ws"
)

// Config holds server configuration.
type Config struct {
	Addr         string
	JWTSecret    string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout: SSE and websocket hold long responses
	}
}

// Server wires the registry, broadcaster, coordinator and chat service
// behind one router.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	chat     *chat.Service
	reg      *registry.Registry
	cast     *broadcast.Broadcaster
	coord    *stream.Coordinator
	verifier *ws.TokenVerifier

	logger zerolog.Logger
}

// New creates a Server over a chat service and a completion streamer.
func New(cfg *Config, chatSvc *chat.Service, streamer provider.Streamer) *Server {
	reg := registry.New()
	cast := broadcast.New(reg)

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		chat:     chatSvc,
		reg:      reg,
		cast:     cast,
		coord:    stream.NewCoordinator(chatSvc, streamer, cast, reg),
		verifier: ws.NewTokenVerifier(cfg.JWTSecret),
		logger:   logging.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Connection-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Str("addr", s.config.Addr).Msg("server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Verifier returns the token verifier, so the CLI can mint dev tokens with
// the same secret the server checks against.
func (s *Server) Verifier() *ws.TokenVerifier {
	return s.verifier
}

// Context keys
type contextKey string

const contextKeyUserID contextKey = "userID"

// authenticate verifies the bearer token and stores the user identity in
// the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing token")
			return
		}
		userID, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated user from context.
func userID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyUserID).(string); ok {
		return id
	}
	return ""
}

// originConnID returns the caller's websocket connection ID, used to keep
// the originating connection out of exclude-sender broadcasts. Empty when
// the caller has no live connection.
func originConnID(r *http.Request) string {
	return r.Header.Get("X-Connection-ID")
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return r.URL.Query().Get("token")
}
