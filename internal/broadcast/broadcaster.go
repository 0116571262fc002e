// Package broadcast delivers logical events to selected subsets of live
// connections. Conversation rooms are cross-user scopes: any connection
// that joined a conversation receives its room events, irrespective of the
// owning user. User scope reaches one user's own connections only.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/chatsync/chatsync/internal/event"
	"github.com/chatsync/chatsync/internal/logging"
	"github.com/chatsync/chatsync/internal/registry"
)

// Broadcaster owns room membership and fans events out through registry
// sinks. Sender-exclusion policy is explicit per method, never inferred at
// call sites: mutations the originator already knows from its own HTTP
// response use the Except variants, streaming/completion events include
// everyone.
type Broadcaster struct {
	mu    sync.RWMutex
	reg   *registry.Registry
	rooms map[string]map[string]struct{}

	logger zerolog.Logger
}

// New creates a broadcaster over a registry.
func New(reg *registry.Registry) *Broadcaster {
	return &Broadcaster{
		reg:    reg,
		rooms:  make(map[string]map[string]struct{}),
		logger: logging.With().Str("component", "broadcast").Logger(),
	}
}

// JoinConversation adds a connection to a conversation's room.
func (b *Broadcaster) JoinConversation(connID, conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[conversationID]
	if !ok {
		room = make(map[string]struct{})
		b.rooms[conversationID] = room
	}
	room[connID] = struct{}{}
}

// LeaveConversation removes a connection from a conversation's room,
// deleting the room when it empties.
func (b *Broadcaster) LeaveConversation(connID, conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room, ok := b.rooms[conversationID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(b.rooms, conversationID)
		}
	}
}

// LeaveAll removes a connection from every room. Called on disconnect.
func (b *Broadcaster) LeaveAll(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conversationID, room := range b.rooms {
		delete(room, connID)
		if len(room) == 0 {
			delete(b.rooms, conversationID)
		}
	}
}

// RoomMembers returns a snapshot of the connection IDs in a room.
func (b *Broadcaster) RoomMembers(conversationID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	room := b.rooms[conversationID]
	out := make([]string, 0, len(room))
	for connID := range room {
		out = append(out, connID)
	}
	return out
}

// ToConversation delivers to every room member, the sender included.
// Chunk, typing and completion events use this scope: they carry
// information the originator does not otherwise have.
func (b *Broadcaster) ToConversation(conversationID string, ev event.Event) {
	for _, connID := range b.RoomMembers(conversationID) {
		b.deliver(connID, ev)
	}
}

// ToConversationExcept delivers to every room member except the origin
// connection.
func (b *Broadcaster) ToConversationExcept(conversationID, originConnID string, ev event.Event) {
	for _, connID := range b.RoomMembers(conversationID) {
		if connID == originConnID {
			continue
		}
		b.deliver(connID, ev)
	}
}

// ToUser delivers to all of a user's connections.
func (b *Broadcaster) ToUser(userID string, ev event.Event) {
	for _, snap := range b.reg.ConnectionsOf(userID) {
		b.deliver(snap.ID, ev)
	}
}

// ToUserExcept delivers to all of a user's connections except the origin.
// This is the exclude-sender class: the originator already holds the
// authoritative result from its own request and must not re-apply it.
func (b *Broadcaster) ToUserExcept(userID, originConnID string, ev event.Event) {
	for _, snap := range b.reg.ConnectionsOf(userID) {
		if snap.ID == originConnID {
			continue
		}
		b.deliver(snap.ID, ev)
	}
}

// ToUserExceptRoom delivers to a user's connections that are NOT already in
// the conversation's room. Used when one logical action fans out on both
// scopes; the set difference guarantees no connection sees the payload
// twice.
func (b *Broadcaster) ToUserExceptRoom(userID, conversationID string, ev event.Event) {
	b.mu.RLock()
	room := b.rooms[conversationID]
	inRoom := make(map[string]struct{}, len(room))
	for connID := range room {
		inRoom[connID] = struct{}{}
	}
	b.mu.RUnlock()

	for _, snap := range b.reg.ConnectionsOf(userID) {
		if _, dup := inRoom[snap.ID]; dup {
			continue
		}
		b.deliver(snap.ID, ev)
	}
}

// ToConnection delivers to a single connection. Used for targeted events
// such as unread-status changes.
func (b *Broadcaster) ToConnection(connID string, ev event.Event) {
	b.deliver(connID, ev)
}

// deliver hands the event to one connection's sink. A failed delivery means
// the connection is closed or too slow to drain its buffer; either way it
// has lost an event it can never recover in-band, so it is dropped and the
// client's reconnect restores a consistent snapshot.
func (b *Broadcaster) deliver(connID string, ev event.Event) {
	snap, ok := b.reg.Get(connID)
	if !ok || snap.Sink == nil {
		return
	}
	if snap.Sink.Deliver(ev) {
		return
	}

	b.logger.Warn().
		Str("connID", connID).
		Str("eventType", string(ev.Type)).
		Msg("delivery failed, dropping connection")

	b.reg.Unregister(connID)
	b.LeaveAll(connID)
	snap.Sink.Close()
}
