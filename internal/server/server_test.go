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

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zen/internal/agent"
	"zen/internal/cache"
	"zen/internal/event"
	"zen/internal/llm"
	"zen/internal/registry"
	"zen/internal/store"
	"zen/internal/tier"
	"zen/internal/tooldispatch"
	"zen/internal/usercontext"
)

const testSecret = "server-test-secret"

func forgeToken(t *testing.T, secret, userID string, userTier tier.Tier) string {
	t.Helper()
	claims := Claims{
		Tier: string(userTier),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

type serverFixture struct {
	server   *Server
	ts       *httptest.Server
	contexts *usercontext.Factory
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	contexts, err := usercontext.NewFactory(tier.DefaultTable())
	require.NoError(t, err)
	sessions := registry.NewInMemory()
	st := store.NewMemory()

	toolCache, err := cache.NewLRU(64, time.Minute)
	require.NoError(t, err)
	tools := tooldispatch.NewRegistry()
	require.NoError(t, tooldispatch.RegisterBuiltins(tools, st))
	dispatchers := tooldispatch.NewFactory(tools, toolCache, nil)

	executor := agent.NewExecutor(llm.NewScripted(), dispatchers, sessions, st)

	srv := New(Config{Addr: "127.0.0.1:0"}, NewVerifier(testSecret, nil), contexts, sessions, executor, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &serverFixture{server: srv, ts: ts, contexts: contexts}
}

func (f *serverFixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *serverFixture) createContext(t *testing.T, token string) contextResponse {
	t.Helper()
	resp := f.request(t, http.MethodPost, "/api/contexts", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out contextResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthRequiresNoAuth(t *testing.T) {
	f := newServerFixture(t)
	resp := f.request(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeJSON(t, resp)["status"])
}

func TestAuthRejections(t *testing.T) {
	f := newServerFixture(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong secret", forgeToken(t, "other-secret", "alice", tier.Free)},
		{"empty subject", forgeToken(t, testSecret, "", tier.Free)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.request(t, http.MethodPost, "/api/contexts", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestCreateContext(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)

	ctx := f.createContext(t, token)
	assert.Equal(t, "alice", ctx.UserID)
	assert.Equal(t, "mid", ctx.Tier)
	assert.Equal(t, "active", ctx.Status)
	assert.NotEmpty(t, ctx.ContextID)
	assert.NotEmpty(t, ctx.ThreadID)
}

func TestCreateContextQuota(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Free)

	f.createContext(t, token)
	resp := f.request(t, http.MethodPost, "/api/contexts", token, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	msg, _ := decodeJSON(t, resp)["error"].(string)
	assert.Contains(t, msg, "Maximum concurrent contexts")
}

func TestListContextsScopedToOwner(t *testing.T) {
	f := newServerFixture(t)
	alice := forgeToken(t, testSecret, "alice", tier.Mid)
	bob := forgeToken(t, testSecret, "bob", tier.Mid)

	f.createContext(t, alice)
	f.createContext(t, alice)
	f.createContext(t, bob)

	resp := f.request(t, http.MethodGet, "/api/contexts", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Contexts []contextResponse `json:"contexts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Contexts, 1)
	assert.Equal(t, "bob", out.Contexts[0].UserID)
}

func TestForeignContextLooksMissing(t *testing.T) {
	f := newServerFixture(t)
	alice := forgeToken(t, testSecret, "alice", tier.Mid)
	bob := forgeToken(t, testSecret, "bob", tier.Mid)
	ctx := f.createContext(t, alice)

	for _, probe := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/contexts/" + ctx.ContextID + "/security"},
		{http.MethodDelete, "/api/contexts/" + ctx.ContextID},
	} {
		resp := f.request(t, probe.method, probe.path, bob, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, probe.path)
	}
}

func TestExtendContext(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)
	ctx := f.createContext(t, token)

	resp := f.request(t, http.MethodPost, "/api/contexts/"+ctx.ContextID+"/extend", token, extendContextRequest{Hours: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, true, out["extended"])
	assert.NotEmpty(t, out["expires_at"])
}

func TestTerminateContext(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)
	ctx := f.createContext(t, token)

	resp := f.request(t, http.MethodDelete, "/api/contexts/"+ctx.ContextID+"?reason=user_request", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, true, out["terminated"])
	assert.Equal(t, "user_request", out["reason"])

	// The index entry is removed synchronously, so the path now 404s.
	resp = f.request(t, http.MethodDelete, "/api/contexts/"+ctx.ContextID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func (f *serverFixture) dial(t *testing.T, contextID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/" + contextID + "?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvents(t *testing.T, conn *websocket.Conn, deadline time.Duration) []event.Event {
	t.Helper()
	var events []event.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(deadline)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev event.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)
		if ev.Type == event.TypeAgentCompleted || ev.Type == event.TypeError {
			return events
		}
	}
}

func TestWebSocketChatRun(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)
	ctx := f.createContext(t, token)

	conn, _, err := f.dial(t, ctx.ContextID, token)
	require.NoError(t, err)
	defer conn.Close()

	msg := fmt.Sprintf(`{"type":"chat_message","content":"what is the weather like","user_id":"alice","thread_id":"%s"}`, ctx.ThreadID)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	events := readEvents(t, conn, 5*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, event.TypeAgentStarted, events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, event.TypeAgentCompleted, last.Type)
	assert.Greater(t, len(last.Content), event.MinCompletionContentLen)
	for _, ev := range events {
		assert.Equal(t, "alice", ev.UserID)
		assert.Equal(t, ctx.ThreadID, ev.ThreadID)
	}
}

func TestWebSocketReconnectReplacesBinding(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)
	ctx := f.createContext(t, token)

	first, _, err := f.dial(t, ctx.ContextID, token)
	require.NoError(t, err)
	defer first.Close()

	second, _, err := f.dial(t, ctx.ContextID, token)
	require.NoError(t, err)
	defer second.Close()

	// The rebind closes the first connection. Wait for it to die and give
	// its handler time to run its deferred release before using the
	// replacement.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	time.Sleep(200 * time.Millisecond)

	msg := fmt.Sprintf(`{"type":"chat_message","content":"how are you today","thread_id":"%s"}`, ctx.ThreadID)
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(msg)))

	events := readEvents(t, second, 5*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, event.TypeAgentStarted, events[0].Type)
	assert.Equal(t, event.TypeAgentCompleted, events[len(events)-1].Type)
}

func TestRestMessageBufferedUntilConnect(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)
	ctx := f.createContext(t, token)

	resp := f.request(t, http.MethodPost, "/api/contexts/"+ctx.ContextID+"/messages", token,
		sendMessageRequest{Content: "give me a short summary of the plan"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.NotEmpty(t, out["run_id"])

	// Events from the run started before any channel was bound are
	// buffered and flushed once the WebSocket connects.
	conn, _, err := f.dial(t, ctx.ContextID, token)
	require.NoError(t, err)
	defer conn.Close()

	events := readEvents(t, conn, 5*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, event.TypeAgentStarted, events[0].Type)
	assert.Equal(t, event.TypeAgentCompleted, events[len(events)-1].Type)
}

func TestRestMessageRejectsEmptyContent(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)
	ctx := f.createContext(t, token)

	resp := f.request(t, http.MethodPost, "/api/contexts/"+ctx.ContextID+"/messages", token,
		sendMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketRejectsSpoofedIdentity(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)
	ctx := f.createContext(t, token)

	conn, _, err := f.dial(t, ctx.ContextID, token)
	require.NoError(t, err)
	defer conn.Close()

	msg := fmt.Sprintf(`{"type":"chat_message","content":"hello","user_id":"bob","thread_id":"%s"}`, ctx.ThreadID)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	events := readEvents(t, conn, 5*time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeError, events[0].Type)
	assert.NotContains(t, events[0].Error, "bob")
}

func TestWebSocketForeignContextDenied(t *testing.T) {
	f := newServerFixture(t)
	alice := forgeToken(t, testSecret, "alice", tier.Mid)
	bob := forgeToken(t, testSecret, "bob", tier.Mid)
	ctx := f.createContext(t, alice)

	_, resp, err := f.dial(t, ctx.ContextID, bob)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketMalformedMessage(t *testing.T) {
	f := newServerFixture(t)
	token := forgeToken(t, testSecret, "alice", tier.Mid)
	ctx := f.createContext(t, token)

	conn, _, err := f.dial(t, ctx.ContextID, token)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	events := readEvents(t, conn, 5*time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeError, events[0].Type)
	assert.Contains(t, events[0].Error, "malformed message")
}
