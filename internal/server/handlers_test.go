package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/provider"
	"github.com/chatsync/chatsync/internal/storage"
	"github.com/chatsync/chatsync/pkg/types"
)

type serverFixture struct {
	server *Server
	srv    *httptest.Server
	token  string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"

	chatSvc := chat.NewService(storage.New(t.TempDir()))
	s := New(cfg, chatSvc, &provider.ScriptStreamer{Fragments: []string{"ok"}})

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	token, err := s.Verifier().Sign("alice", time.Minute)
	require.NoError(t, err)

	return &serverFixture{server: s, srv: srv, token: token}
}

func (f *serverFixture) request(t *testing.T, method, path string, body any, connID string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")
	if connID != "" {
		req.Header.Set("X-Connection-ID", connID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_RequiresAuth(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.srv.URL + "/conversation")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ConversationLifecycle(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/conversation", map[string]string{"title": "Plans"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	conv := decodeBody[types.Conversation](t, resp)
	assert.Equal(t, "Plans", conv.Title)
	assert.Equal(t, "alice", conv.UserID)

	resp = f.request(t, http.MethodPatch, "/conversation/"+conv.ID, map[string]string{"title": "Renamed"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renamed := decodeBody[types.Conversation](t, resp)
	assert.Equal(t, "Renamed", renamed.Title)

	resp = f.request(t, http.MethodGet, "/conversation", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]types.Conversation](t, resp)
	require.Len(t, list, 1)

	resp = f.request(t, http.MethodDelete, "/conversation/"+conv.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/conversation/"+conv.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MoveConversationValidatesProject(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/conversation", map[string]string{"title": "Chat"}, "")
	conv := decodeBody[types.Conversation](t, resp)

	ghost := "no-such-project"
	resp = f.request(t, http.MethodPost, "/conversation/"+conv.ID+"/move", map[string]any{"projectID": ghost}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/project", map[string]string{"name": "Work"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	project := decodeBody[types.Project](t, resp)

	resp = f.request(t, http.MethodPost, "/conversation/"+conv.ID+"/move", map[string]any{"projectID": project.ID}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decodeBody[types.Conversation](t, resp)
	require.NotNil(t, moved.ProjectID)
	assert.Equal(t, project.ID, *moved.ProjectID)
}

func TestServer_DeleteProjectUnfilesConversations(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/project", map[string]string{"name": "Work"}, "")
	project := decodeBody[types.Project](t, resp)

	resp = f.request(t, http.MethodPost, "/conversation", map[string]any{"title": "Chat", "projectID": project.ID}, "")
	conv := decodeBody[types.Conversation](t, resp)

	resp = f.request(t, http.MethodDelete, "/project/"+project.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/conversation/"+conv.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	unfiled := decodeBody[types.Conversation](t, resp)
	assert.Nil(t, unfiled.ProjectID)
}

func TestServer_ListMessagesChecksOwnership(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/conversation/not-mine/message", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// dialWS attaches a websocket for the fixture's user and returns the
// connection plus the server-assigned connection ID.
func (f *serverFixture) dialWS(t *testing.T) (*websocket.Conn, string) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + f.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello struct {
		Type string `json:"type"`
		Data struct {
			ConnectionID string `json:"connectionID"`
		} `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "server.connected", hello.Type)
	return conn, hello.Data.ConnectionID
}

func TestServer_MutationExcludesOriginConnection(t *testing.T) {
	f := newServerFixture(t)

	origin, originID := f.dialWS(t)
	other, _ := f.dialWS(t)

	resp := f.request(t, http.MethodPost, "/conversation", map[string]string{"title": "Plans"}, originID)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[types.Conversation](t, resp)

	// The sibling connection hears about the mutation.
	var ev struct {
		Type string `json:"type"`
		Data struct {
			Conversation types.Conversation `json:"conversation"`
		} `json:"data"`
	}
	require.NoError(t, other.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, other.ReadJSON(&ev))
	assert.Equal(t, "conversation.created", ev.Type)
	assert.Equal(t, created.ID, ev.Data.Conversation.ID)

	// The origin hears nothing; it already has the HTTP response.
	require.NoError(t, origin.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var stray json.RawMessage
	err := origin.ReadJSON(&stray)
	require.Error(t, err, "expected read timeout, got event: %s", stray)
}

func TestServer_MessageListRoundTrip(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/conversation", map[string]string{"title": "Chat"}, "")
	conv := decodeBody[types.Conversation](t, resp)

	conn, _ := f.dialWS(t)
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "conversation.join", "conversationID": conv.ID,
	}))
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "message.send", "conversationID": conv.ID, "content": "hi",
	}))

	// Drain until the cycle finishes.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev struct {
			Type string `json:"type"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "message.completed" {
			break
		}
	}

	resp = f.request(t, http.MethodGet, fmt.Sprintf("/conversation/%s/message", conv.ID), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeBody[[]types.Message](t, resp)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "ok", msgs[1].Content)
}
