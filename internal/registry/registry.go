// Package registry keeps the authoritative bookkeeping of live connections:
// which user each connection belongs to, which conversation it is viewing,
// and which conversations have unread activity. All mutation goes through
// registry methods; no caller ever holds a reference to the underlying maps.
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatsync/chatsync/internal/event"
	"github.com/chatsync/chatsync/internal/logging"
)

// Sink is the delivery end of one connection. Implemented by the websocket
// transport; Deliver must not block, returning false when the connection's
// outbound buffer is full. Close tears the transport down and must be safe
// to call more than once.
type Sink interface {
	Deliver(ev event.Event) bool
	Close()
}

// Connection is the registry's record for one live transport session
// (one browser tab or device).
type Connection struct {
	id        string
	userID    string
	sink      Sink
	viewing   string
	unread    map[string]struct{}
	createdAt time.Time
}

// Snapshot is a copy of a connection's state, safe to iterate after the
// registry has moved on.
type Snapshot struct {
	ID      string
	UserID  string
	Viewing string
	Sink    Sink
}

// Registry owns the connection and user-set maps.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	users  map[string]map[string]struct{}
	logger zerolog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		users:  make(map[string]map[string]struct{}),
		logger: logging.With().Str("component", "registry").Logger(),
	}
}

// Register adds a connection to its user's set and initializes empty
// viewing/unread state. Registering an already-known ID is a no-op, so a
// duplicate handshake cannot produce duplicate set entries.
func (r *Registry) Register(connID, userID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return
	}

	r.conns[connID] = &Connection{
		id:        connID,
		userID:    userID,
		sink:      sink,
		unread:    make(map[string]struct{}),
		createdAt: time.Now(),
	}

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}

	r.logger.Debug().Str("connID", connID).Str("userID", userID).Msg("connection registered")
}

// Unregister removes a connection and, when it was the user's last one,
// the user's set entry as well. Unknown IDs are a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	if set, ok := r.users[conn.userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, conn.userID)
		}
	}

	r.logger.Debug().Str("connID", connID).Str("userID", conn.userID).Msg("connection unregistered")
}

// MarkViewing records that a connection is displaying a conversation and
// clears that conversation from its unread set. Notifying the connection
// that its unread flag dropped is the broadcaster's job, not the
// registry's.
func (r *Registry) MarkViewing(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	conn.viewing = conversationID
	delete(conn.unread, conversationID)
}

// ClearViewing records that a connection stopped displaying any
// conversation.
func (r *Registry) ClearViewing(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connID]; ok {
		conn.viewing = ""
	}
}

// MarkUnread flags a conversation as having unread activity for one
// connection. A connection actively viewing that conversation is never
// flagged; this is the rule that prevents false unread badges on the tab
// the user is looking at. Returns whether the flag was newly set, so
// callers notify each connection once per transition.
func (r *Registry) MarkUnread(connID, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	if conn.viewing == conversationID {
		return false
	}
	if _, already := conn.unread[conversationID]; already {
		return false
	}
	conn.unread[conversationID] = struct{}{}
	return true
}

// HasUnread reports whether a conversation is flagged unread for a
// connection.
func (r *Registry) HasUnread(connID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, unread := conn.unread[conversationID]
	return unread
}

// Viewing returns the conversation a connection is currently displaying,
// empty when none.
func (r *Registry) Viewing(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if conn, ok := r.conns[connID]; ok {
		return conn.viewing
	}
	return ""
}

// UserOf returns the owning user of a connection.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return conn.userID, true
}

// Get returns a snapshot of a single connection.
func (r *Registry) Get(connID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(conn), true
}

// ConnectionsOf returns a snapshot of a user's connections. Callers iterate
// the returned slice; the registry is free to mutate afterwards.
func (r *Registry) ConnectionsOf(userID string) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.users[userID]
	if !ok {
		return nil
	}

	out := make([]Snapshot, 0, len(set))
	for connID := range set {
		if conn, ok := r.conns[connID]; ok {
			out = append(out, snapshotOf(conn))
		}
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func snapshotOf(c *Connection) Snapshot {
	return Snapshot{
		ID:      c.id,
		UserID:  c.userID,
		Viewing: c.viewing,
		Sink:    c.sink,
	}
}
