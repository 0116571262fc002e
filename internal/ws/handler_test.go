package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/chatsync/internal/broadcast"
	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/provider"
	"github.com/chatsync/chatsync/internal/registry"
	"github.com/chatsync/chatsync/internal/storage"
	"github.com/chatsync/chatsync/internal/stream"
)

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsFixture struct {
	verifier *TokenVerifier
	chat     *chat.Service
	reg      *registry.Registry
	srv      *httptest.Server
}

func newWSFixture(t *testing.T, fragments []string) *wsFixture {
	t.Helper()

	verifier := NewTokenVerifier("test-secret")
	chatSvc := chat.NewService(storage.New(t.TempDir()))
	reg := registry.New()
	cast := broadcast.New(reg)
	coord := stream.NewCoordinator(chatSvc, &provider.ScriptStreamer{Fragments: fragments}, cast, reg)

	srv := httptest.NewServer(NewHandler(verifier, reg, cast, coord))
	t.Cleanup(srv.Close)

	return &wsFixture{verifier: verifier, chat: chatSvc, reg: reg, srv: srv}
}

func (f *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	token, err := f.verifier.Sign(userID, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads the next event, failing the test on timeout.
func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHandler_RejectsBadToken(t *testing.T) {
	f := newWSFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_ConnectedHandshake(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.dial(t, "alice")

	ev := readEvent(t, conn)
	assert.Equal(t, "server.connected", ev.Type)

	var data struct {
		ConnectionID string `json:"connectionID"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.NotEmpty(t, data.ConnectionID)

	// The connection is registered under its announced ID.
	userID, ok := f.reg.UserOf(data.ConnectionID)
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
}

func TestHandler_MessageSendStreamsToRoom(t *testing.T) {
	f := newWSFixture(t, []string{"Hel", "lo!"})

	conv, err := f.chat.CreateConversation(context.Background(), "alice", "Chat", nil)
	require.NoError(t, err)

	conn := f.dial(t, "alice")
	readEvent(t, conn) // server.connected

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "conversation.join", "conversationID": conv.ID,
	}))
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "message.send", "conversationID": conv.ID, "content": "hi", "clientID": "tmp-1",
	}))

	var sawTyping bool
	var contents []string
	for {
		ev := readEvent(t, conn)
		switch ev.Type {
		case "ai.typing.started":
			sawTyping = true
		case "message.chunk":
			var data struct {
				Content string `json:"content"`
			}
			require.NoError(t, json.Unmarshal(ev.Data, &data))
			contents = append(contents, data.Content)
		case "message.completed":
			assert.True(t, sawTyping)
			assert.Equal(t, []string{"Hel", "Hello!"}, contents)
			return
		case "message.error":
			t.Fatalf("unexpected error event: %s", ev.Data)
		}
	}
}

func TestHandler_MalformedFrameScopedError(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.dial(t, "alice")
	readEvent(t, conn) // server.connected

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))

	ev := readEvent(t, conn)
	assert.Equal(t, "message.error", ev.Type)
}

func TestHandler_ViewClearsUnread(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.dial(t, "alice")

	var connected struct {
		ConnectionID string `json:"connectionID"`
	}
	ev := readEvent(t, conn)
	require.NoError(t, json.Unmarshal(ev.Data, &connected))

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "conversation.view", "conversationID": "c1",
	}))

	ev = readEvent(t, conn)
	assert.Equal(t, "conversation.unread", ev.Type)
	var data struct {
		ConversationID string `json:"conversationID"`
		HasUnread      bool   `json:"hasUnread"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "c1", data.ConversationID)
	assert.False(t, data.HasUnread)
	assert.Equal(t, "c1", f.reg.Viewing(connected.ConnectionID))
}

func TestHandler_DisconnectCleansUp(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.dial(t, "alice")

	var connected struct {
		ConnectionID string `json:"connectionID"`
	}
	ev := readEvent(t, conn)
	require.NoError(t, json.Unmarshal(ev.Data, &connected))
	require.Equal(t, 1, f.reg.Len())

	conn.Close()

	require.Eventually(t, func() bool {
		return f.reg.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	_, ok := f.reg.UserOf(connected.ConnectionID)
	assert.False(t, ok)
}
