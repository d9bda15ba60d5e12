// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnolamide/echo-mcp-server/internal/chat"
	"github.com/johnolamide/echo-mcp-server/internal/config"
	"github.com/johnolamide/echo-mcp-server/internal/email"
	"github.com/johnolamide/echo-mcp-server/internal/service"
	"github.com/johnolamide/echo-mcp-server/internal/store"
	"github.com/johnolamide/echo-mcp-server/internal/vault"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	key := bytes.Repeat([]byte{0x5a}, 32)
	v, err := vault.New(key, zerolog.Nop())
	require.NoError(t, err)

	registry := chat.NewRegistry(nil, zerolog.Nop())
	chatHandler := chat.NewHandler(st, registry, false, zerolog.Nop())

	cfg := config.Settings{
		JWTSecret:       "test-secret-key",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		DevMode:         true,
	}

	server := New(Deps{
		Config:   cfg,
		Store:    st,
		Redis:    client,
		Vault:    v,
		Executor: service.NewExecutor(v, zerolog.Nop()),
		Registry: registry,
		Chat:     chatHandler,
		Email:    email.NewLogSender(zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})

	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, store: st}
}

// doJSON issues a request and decodes the JSON response body.
func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *testEnv) register(t *testing.T, username string) {
	t.Helper()
	code, _ := e.doJSON(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, code)
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	code, body := e.doJSON(t, http.MethodPost, "/auth/login", "", map[string]any{
		"username": username,
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, code)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

// makeAdmin promotes a registered user directly through storage.
func (e *testEnv) makeAdmin(t *testing.T, username string) {
	t.Helper()
	u, err := e.store.GetUserByUsername(context.Background(), username)
	require.NoError(t, err)
	require.NoError(t, e.store.SetUserAdmin(context.Background(), u.ID, true))
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	token := env.login(t, "alice")

	code, body := env.doJSON(t, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", body["username"])
	assert.NotContains(t, body, "hashed_password")
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.doJSON(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": "bob", "email": "not-an-email", "password": "password123",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = env.doJSON(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": "bob", "email": "bob@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	env.register(t, "bob")
	code, _ = env.doJSON(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username": "bob", "email": "other@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, code)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	code, _ := env.doJSON(t, http.MethodPost, "/auth/login", "", map[string]any{
		"username": "alice", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.doJSON(t, http.MethodGet, "/services", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.doJSON(t, http.MethodGet, "/services", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	token := env.login(t, "alice")

	code, _ := env.doJSON(t, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = env.doJSON(t, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	code, body := env.doJSON(t, http.MethodPost, "/auth/login", "", map[string]any{
		"username": "alice", "password": "password123",
	})
	require.Equal(t, http.StatusOK, code)
	refresh := body["refresh_token"].(string)

	code, body = env.doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]any{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["access_token"])

	// The consumed refresh token is dead.
	code, _ = env.doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]any{
		"refresh_token": refresh,
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdminServiceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "admin")
	env.makeAdmin(t, "admin")
	adminToken := env.login(t, "admin")

	env.register(t, "alice")
	userToken := env.login(t, "alice")

	// Non-admin gets 403.
	code, _ := env.doJSON(t, http.MethodPost, "/admin/services", userToken, map[string]any{})
	assert.Equal(t, http.StatusForbidden, code)

	payload := map[string]any{
		"name":         "weather",
		"type":         "lookup",
		"api_base_url": "https://api.example.com",
		"api_endpoint": "/v1/weather",
		"http_method":  "POST",
		"request_template": map[string]any{
			"lat": "{{lat}}", "lng": "{{lng}}",
		},
		"api_key":        "plaintext-secret",
		"api_key_header": "X-API-Key",
	}
	code, body := env.doJSON(t, http.MethodPost, "/admin/services", adminToken, payload)
	require.Equal(t, http.StatusCreated, code)
	assert.NotContains(t, body, "encrypted_api_key", "vault blob never leaves the server")
	id := int64(body["id"].(float64))

	// Duplicate (name, type) rejected.
	code, _ = env.doJSON(t, http.MethodPost, "/admin/services", adminToken, payload)
	assert.Equal(t, http.StatusConflict, code)

	// Visible to plain users.
	code, body = env.doJSON(t, http.MethodGet, "/services", userToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["services"], 1)

	code, body = env.doJSON(t, http.MethodGet, fmt.Sprintf("/services/%d/schema", id), userToken, nil)
	require.Equal(t, http.StatusOK, code)
	examples := body["example_request"].(map[string]any)
	assert.Contains(t, examples, "lat")
	assert.Contains(t, examples, "lng")
	assert.ElementsMatch(t, []any{"lat", "lng"}, body["required_parameters"])

	// Soft delete hides it from users but keeps the row for admins.
	code, _ = env.doJSON(t, http.MethodDelete, fmt.Sprintf("/admin/services/%d", id), adminToken, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = env.doJSON(t, http.MethodGet, fmt.Sprintf("/services/%d", id), userToken, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = env.doJSON(t, http.MethodGet, "/admin/services?include_inactive=true", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["services"], 1)
}

func TestExecuteServiceEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "admin")
	env.makeAdmin(t, "admin")
	adminToken := env.login(t, "admin")

	var gotAPIKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temperature": 21.5}`))
	}))
	defer upstream.Close()

	code, body := env.doJSON(t, http.MethodPost, "/admin/services", adminToken, map[string]any{
		"name":             "weather",
		"type":             "lookup",
		"api_base_url":     upstream.URL,
		"api_endpoint":     "/v1/weather",
		"http_method":      "POST",
		"request_template": map[string]any{"lat": "{{lat}}"},
		"api_key":          "plaintext-secret",
		"api_key_header":   "X-API-Key",
	})
	require.Equal(t, http.StatusCreated, code)
	id := int64(body["id"].(float64))

	code, body = env.doJSON(t, http.MethodPost, fmt.Sprintf("/services/%d/execute", id), adminToken, map[string]any{
		"parameters": map[string]any{"lat": 40.7},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "plaintext-secret", gotAPIKey, "stored key decrypted and attached")

	// Missing parameter surfaces as a structured validation failure.
	code, body = env.doJSON(t, http.MethodPost, fmt.Sprintf("/services/%d/execute", id), adminToken, map[string]any{
		"parameters": map[string]any{},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
}

func TestChatRESTFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	env.register(t, "bob")
	aliceToken := env.login(t, "alice")
	bobToken := env.login(t, "bob")

	bobUser, err := env.store.GetUserByUsername(context.Background(), "bob")
	require.NoError(t, err)
	aliceUser, err := env.store.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)

	code, _ := env.doJSON(t, http.MethodPost, "/chat/send", aliceToken, map[string]any{
		"receiver_id": bobUser.ID, "content": "hello bob",
	})
	require.Equal(t, http.StatusCreated, code)

	// Self-send rejected under the default policy.
	code, _ = env.doJSON(t, http.MethodPost, "/chat/send", aliceToken, map[string]any{
		"receiver_id": aliceUser.ID, "content": "note",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body := env.doJSON(t, http.MethodGet, "/chat/unread-count", bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["unread_count"])

	code, body = env.doJSON(t, http.MethodGet,
		fmt.Sprintf("/chat/history/%d", aliceUser.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["messages"], 1)

	code, body = env.doJSON(t, http.MethodGet, "/chat/conversations", bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["conversations"], 1)

	code, body = env.doJSON(t, http.MethodPut,
		fmt.Sprintf("/chat/read/%d", aliceUser.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["marked_read"])

	code, body = env.doJSON(t, http.MethodGet, "/chat/unread-count", bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["unread_count"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.doJSON(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func wsURL(httpURL, path, token string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path + "?token=" + token
}

func TestChatWebSocket(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	token := env.login(t, "alice")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(env.srv.URL, "/chat/ws", token), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev chat.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, chat.EventConnectionConfirmed, ev.Type)
}

func TestChatWebSocketBadToken(t *testing.T) {
	env := newTestEnv(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(env.srv.URL, "/chat/ws", "garbage"), nil)
	require.NoError(t, err, "upgrade succeeds, close frame carries the rejection")
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}
