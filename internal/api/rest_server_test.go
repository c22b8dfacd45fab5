package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/annel0/wordle-server/internal/auth"
	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/notify"
	"github.com/annel0/wordle-server/internal/protocol"
)

type testEnv struct {
	store  *game.Store
	hub    *notify.Hub
	tokens *auth.TokenIssuer
	rest   *RestServer
	srv    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := game.NewStore(&auth.BcryptCredential{Cost: bcrypt.MinCost})
	hub := notify.NewHub(store, nil, "test")
	tokens, err := auth.NewTokenIssuer("test-secret", time.Minute)
	require.NoError(t, err)

	rest := NewRestServer(Config{Store: store, Hub: hub, Tokens: tokens, Service: "wordle_test"})
	srv := httptest.NewServer(rest.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{store: store, hub: hub, tokens: tokens, rest: rest, srv: srv}
}

func (e *testEnv) register(t *testing.T, username, password string) (int, protocol.Code) {
	t.Helper()
	body, _ := json.Marshal(RegisterRequest{Username: username, Password: password})
	resp, err := http.Post(e.srv.URL+"/api/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out CodeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out.Code
}

func (e *testEnv) pushURL(username, token string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     strings.TrimPrefix(e.srv.URL, "http://"),
		Path:     "/ws/push",
		RawQuery: url.Values{"username": {username}, "token": {token}}.Encode(),
	}
	return u.String()
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, code := env.register(t, "ann", "pw")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, protocol.CodeOK, code)

	status, code = env.register(t, "ann", "pw")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, protocol.CodeUsernameAlreadyUsed, code)

	_, code = env.register(t, "  ", "pw")
	assert.Equal(t, protocol.CodeUsernameRequired, code)

	_, code = env.register(t, "bob", "")
	assert.Equal(t, protocol.CodePasswordRequired, code)

	resp, err := http.Post(env.srv.URL+"/api/register", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRankEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/api/rank")
	require.NoError(t, err)
	var empty struct {
		Rank []game.RankEntry `json:"rank"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.NotNil(t, empty.Rank)
	assert.Empty(t, empty.Rank)

	env.register(t, "ann", "pw")
	env.register(t, "bob", "pw")

	resp, err = http.Get(env.srv.URL + "/api/rank")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		Rank []game.RankEntry `json:"rank"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Rank, 2)
	assert.Equal(t, "ann", out.Rank[0].Username)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.rest.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.rest.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPushChannelReceivesRank(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Register("ann", "pw"))
	require.NoError(t, env.store.Login("ann", "pw", "s1"))
	token, err := env.tokens.Issue("ann", "s1")
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(env.pushURL("ann", token), nil)
	require.NoError(t, err)
	defer ws.Close()

	readPush := func() protocol.PushMessage {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg protocol.PushMessage
		require.NoError(t, ws.ReadJSON(&msg))
		return msg
	}

	snapshot := readPush()
	assert.Equal(t, protocol.PushRank, snapshot.Type)
	require.Len(t, snapshot.Rank, 1)
	assert.Equal(t, "ann", snapshot.Rank[0].Username)

	env.hub.BroadcastRank([]game.RankEntry{{Username: "bob", Score: 4}})
	update := readPush()
	require.Len(t, update.Rank, 1)
	assert.Equal(t, "bob", update.Rank[0].Username)

	// после закрытия клиента канал снимается с регистрации
	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return env.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPushChannelRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Register("ann", "pw"))
	require.NoError(t, env.store.Login("ann", "pw", "s1"))

	_, resp, err := websocket.DefaultDialer.Dial(env.pushURL("ann", "garbage"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// чужой токен
	token, err := env.tokens.Issue("bob", "s1")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(env.pushURL("ann", token), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// токен завершённой сессии
	token, err = env.tokens.Issue("ann", "s1")
	require.NoError(t, err)
	require.NoError(t, env.store.Logout("ann"))
	_, resp, err = websocket.DefaultDialer.Dial(env.pushURL("ann", token), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestShutdownClosesPushChannels(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Register("ann", "pw"))
	require.NoError(t, env.store.Login("ann", "pw", "s1"))
	token, err := env.tokens.Issue("ann", "s1")
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(env.pushURL("ann", token), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.rest.pushMu.Lock()
	for conn := range env.rest.pushes {
		_ = conn.Close()
	}
	env.rest.pushMu.Unlock()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool { return env.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPushAfterCloseFails(t *testing.T) {
	p := &pushConn{send: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, p.Push(&protocol.PushMessage{Type: protocol.PushRank}))
	assert.ErrorIs(t, p.Push(&protocol.PushMessage{Type: protocol.PushRank}), ErrPushQueueFull)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Push(&protocol.PushMessage{Type: protocol.PushRank}), ErrPushClosed)
}
