package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatsync/chatsync/internal/broadcast"
	"github.com/chatsync/chatsync/internal/event"
	"github.com/chatsync/chatsync/internal/logging"
	"github.com/chatsync/chatsync/internal/registry"
	"github.com/chatsync/chatsync/internal/stream"
)

// Handler upgrades HTTP requests to websocket sessions and routes inbound
// frames to the registry, broadcaster and stream coordinator.
type Handler struct {
	verifier *TokenVerifier
	reg      *registry.Registry
	cast     *broadcast.Broadcaster
	coord    *stream.Coordinator

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(verifier *TokenVerifier, reg *registry.Registry, cast *broadcast.Broadcaster, coord *stream.Coordinator) *Handler {
	return &Handler{
		verifier: verifier,
		reg:      reg,
		cast:     cast,
		coord:    coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP authenticates, upgrades, registers the connection, and runs its
// read loop until disconnect. Teardown unregisters the connection and
// removes it from every room; no viewing or unread state survives.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(uuid.NewString(), userID, sock)
	h.reg.Register(conn.id, userID, conn)

	go conn.writePump()

	// The client learns its connection ID here and echoes it as
	// X-Connection-ID on HTTP mutations, which is what makes
	// sender-exclusion possible across transports.
	conn.Deliver(event.Event{
		Type: event.ServerConnected,
		Data: event.ServerConnectedData{ConnectionID: conn.id},
	})

	h.logger.Info().Str("connID", conn.id).Str("userID", userID).Msg("websocket connected")

	conn.readPump(func(data []byte) {
		h.dispatch(conn, data)
	})

	h.reg.Unregister(conn.id)
	h.cast.LeaveAll(conn.id)
	conn.Close()

	h.logger.Info().Str("connID", conn.id).Str("userID", userID).Msg("websocket disconnected")
}

// dispatch handles one inbound frame. Malformed frames produce a scoped
// error event back to the sender and mutate nothing.
func (h *Handler) dispatch(c *Conn, data []byte) {
	frame, err := decodeFrame(data)
	if err != nil {
		c.Deliver(event.Event{
			Type: event.MessageError,
			Data: event.MessageErrorData{Error: err.Error()},
		})
		return
	}

	switch frame.Type {
	case FrameConversationJoin:
		h.cast.JoinConversation(c.id, frame.ConversationID)

	case FrameConversationLeave:
		h.cast.LeaveConversation(c.id, frame.ConversationID)

	case FrameConversationView:
		h.reg.MarkViewing(c.id, frame.ConversationID)
		h.cast.ToConnection(c.id, event.Event{
			Type: event.ConversationUnread,
			Data: event.ConversationUnreadData{
				ConversationID: frame.ConversationID,
				HasUnread:      false,
			},
		})

	case FrameConversationBlur:
		h.reg.ClearViewing(c.id)

	case FrameMessageSend:
		// Detached context: the session outlives the sending connection,
		// so the reply still persists and the room keeps streaming if the
		// origin tab closes mid-generation.
		go func() {
			err := h.coord.Run(context.Background(), stream.Request{
				ConversationID: frame.ConversationID,
				UserID:         c.userID,
				OriginConnID:   c.id,
				Content:        frame.Content,
				Attachments:    frame.Attachments,
				ClientID:       frame.ClientID,
			})
			if err != nil {
				h.logger.Warn().Err(err).
					Str("connID", c.id).
					Str("conversationID", frame.ConversationID).
					Msg("message send failed")
			}
		}()
	}
}

// bearerToken extracts the credential from the Authorization header or,
// for browser websocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, found := strings.CutPrefix(auth, "Bearer "); found {
			return after
		}
	}
	return r.URL.Query().Get("token")
}
