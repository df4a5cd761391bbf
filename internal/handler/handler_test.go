package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collab-notes-server/internal/broadcast"
	"collab-notes-server/internal/domain"
	"collab-notes-server/internal/middleware"
	"collab-notes-server/internal/presence"
	"collab-notes-server/internal/repository"
	"collab-notes-server/internal/service"
	"collab-notes-server/internal/websocket"
	"collab-notes-server/pkg/hash"
	"collab-notes-server/pkg/metrics"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	manager  *websocket.Manager
	registry *presence.Registry
	auth     *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	users := repository.NewMemoryUserRepository()
	manager := websocket.NewManager(5, 1<<16, time.Second, time.Minute, 50*time.Second)
	router := broadcast.NewRouter(manager)
	registry := presence.NewRegistry()
	manager.SetMessageHandler(NewPresenceHandler(manager, registry, router))

	auth := service.NewAuthService(users, hash.Bcrypt{Cost: 4}, service.TokenConfig{
		AccessSecret:  "access",
		AccessTTL:     time.Minute,
		RefreshSecret: "refresh",
		RefreshTTL:    time.Hour,
	})
	identity := service.NewIdentityService(users, "access")
	notes := service.NewNoteService(repository.NewMemoryNoteRepository(), repository.NewMemoryNoteVersionRepository(), router)

	reg := prometheus.NewRegistry()
	metrics.RegisterCollectors(reg)

	r := NewRouter(Routes{
		Auth:       NewAuthHandler(auth),
		User:       NewUserHandler(service.NewUserService(users)),
		Note:       NewNoteHandler(notes),
		WebSocket:  NewWebSocketHandler(manager, identity, WebSocketOptions{AllowedOrigins: "http://app.example"}),
		Resolver:   identity,
		Middleware: []mux.MiddlewareFunc{middleware.LoggerMiddleware()},
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		<-manager.Done()
		srv.Close()
	})

	return &testServer{Server: srv, manager: manager, registry: registry, auth: auth}
}

func (s *testServer) signup(t *testing.T, name, username string) string {
	t.Helper()
	ctx := context.Background()
	_, err := s.auth.Register(ctx, &domain.RegisterRequest{
		Name: name, Username: username, Password: "Secr3t!", ConfirmPassword: "Secr3t!",
	})
	require.NoError(t, err)
	login, err := s.auth.Login(ctx, &domain.LoginRequest{Username: username, Password: "Secr3t!"})
	require.NoError(t, err)
	return login.AccessToken
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (s *testServer) call(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestAuthAPI(t *testing.T) {
	s := newTestServer(t)

	register := map[string]string{
		"name": "Alice", "username": "alice", "password": "Abc#12", "confirm_password": "Abc#12",
	}
	code, env := s.call(t, http.MethodPost, "/api/auth/register", "", register)
	require.Equal(t, http.StatusCreated, code)
	var id domain.Identity
	decodeData(t, env, &id)
	assert.Equal(t, "alice", id.Username)
	assert.NotContains(t, string(env.Data), "password")

	code, _ = s.call(t, http.MethodPost, "/api/auth/register", "", register)
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Bob", "username": "bob", "password": "weak", "confirm_password": "weak",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "password")

	code, _ = s.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "Wrong#1"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": "Abc#12"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "Abc#12"})
	require.Equal(t, http.StatusOK, code)
	var login domain.LoginResponse
	decodeData(t, env, &login)
	require.NotEmpty(t, login.AccessToken)

	code, env = s.call(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]string{"refresh_token": login.RefreshToken})
	require.Equal(t, http.StatusOK, code)
	var refreshed domain.TokenResponse
	decodeData(t, env, &refreshed)
	assert.NotEmpty(t, refreshed.AccessToken)

	code, env = s.call(t, http.MethodGet, "/api/users/me", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), "password")
}

func TestNoteAPI(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "Alice", "alice")
	bob := s.signup(t, "Bob", "bob")

	code, _ := s.call(t, http.MethodGet, "/api/notes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := s.call(t, http.MethodPost, "/api/notes", alice, map[string]string{"title": "x", "content": "draft"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "title")

	code, env = s.call(t, http.MethodPost, "/api/notes", alice, map[string]string{"title": "Plan", "content": "draft"})
	require.Equal(t, http.StatusCreated, code)
	var created domain.NoteResponse
	decodeData(t, env, &created)
	assert.Equal(t, int64(1), created.Version)

	code, env = s.call(t, http.MethodPut, "/api/notes/"+created.ID, bob, map[string]string{"title": "Plan", "content": "final"})
	require.Equal(t, http.StatusOK, code)
	var updated domain.NoteResponse
	decodeData(t, env, &updated)
	assert.Equal(t, int64(2), updated.Version)
	require.Len(t, updated.Collaborators, 2)
	assert.Equal(t, "bob", updated.Collaborators[1].Username)
	require.Len(t, updated.Versions, 1)

	code, env = s.call(t, http.MethodGet, "/api/notes", bob, nil)
	require.Equal(t, http.StatusOK, code)
	var list []*domain.NoteResponse
	decodeData(t, env, &list)
	require.Len(t, list, 1)
	require.Len(t, list[0].Versions, 1)
	assert.Equal(t, "draft", list[0].Versions[0].Data.Content)

	code, env = s.call(t, http.MethodGet, "/api/notes/"+created.ID+"/versions", alice, nil)
	require.Equal(t, http.StatusOK, code)
	var history []*domain.NoteVersion
	decodeData(t, env, &history)
	require.Len(t, history, 1)

	code, env = s.call(t, http.MethodDelete, "/api/notes/"+created.ID, alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Note deleted successfully", env.Message)

	code, _ = s.call(t, http.MethodGet, "/api/notes/"+created.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.call(t, http.MethodDelete, "/api/notes/"+created.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.call(t, http.MethodPut, "/api/notes/"+created.ID, bob, map[string]string{"title": "Plan", "content": "again"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.call(t, http.MethodGet, "/api/versions/"+history[0].ID, alice, nil)
	require.Equal(t, http.StatusOK, code, "history outlives the note")
	var v domain.NoteVersion
	decodeData(t, env, &v)
	assert.Equal(t, "draft", v.Data.Content)

	code, _ = s.call(t, http.MethodGet, "/api/versions/missing", alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&service.ValidationError{Field: "title", Message: "bad"}, http.StatusBadRequest},
		{&service.NotFoundError{Resource: "note", ID: "n1"}, http.StatusNotFound},
		{&service.AuthenticationError{Reason: "nope"}, http.StatusUnauthorized},
		{&service.ConflictError{Reason: "stale"}, http.StatusConflict},
		{&service.PersistenceError{Op: "save", Err: errors.New("down")}, http.StatusInternalServerError},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.err, "failed")
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

// WebSocket helpers

func (s *testServer) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// connect dials and waits for a pong, which proves the connection is
// registered with the manager.
func (s *testServer) connect(t *testing.T, token string) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(s.wsURL(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	send(t, conn, websocket.TypePing, nil)
	expect(t, conn, websocket.TypePong)
	return conn
}

func send(t *testing.T, conn *ws.Conn, kind websocket.MessageType, payload interface{}) {
	t.Helper()
	msg, err := websocket.NewMessage(kind, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *ws.Conn) websocket.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// expect reads frames until one of kind arrives.
func expect(t *testing.T, conn *ws.Conn, kind websocket.MessageType) websocket.Message {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg.Type == kind {
			return msg
		}
	}
}

func expectUsers(t *testing.T, conn *ws.Conn, want ...string) {
	t.Helper()
	msg := read(t, conn)
	require.Equal(t, websocket.MessageType(broadcast.EventPresenceChanged), msg.Type)
	var users []string
	require.NoError(t, json.Unmarshal(msg.Payload, &users))
	assert.Equal(t, want, users)
}

func TestWebSocket_HandshakeRequiresValidToken(t *testing.T) {
	s := newTestServer(t)

	for name, token := range map[string]string{"missing": "", "invalid": "not-a-token"} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := ws.DefaultDialer.Dial(s.wsURL(token), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, s.manager.ConnectionCount())
}

func TestWebSocket_PresenceLifecycle(t *testing.T) {
	s := newTestServer(t)
	a := s.connect(t, s.signup(t, "Alice", "alice"))
	b := s.connect(t, s.signup(t, "Bob", "bob"))

	send(t, a, websocket.TypeJoinNote, "N1")
	expectUsers(t, a, "alice")

	send(t, b, websocket.TypeJoinNote, map[string]string{"noteId": "N1"})
	expectUsers(t, a, "alice", "bob")
	expectUsers(t, b, "alice", "bob")

	// empty room ids are ignored
	send(t, b, websocket.TypeJoinNote, "")

	send(t, b, websocket.TypeLeaveNote, "N1")
	expectUsers(t, a, "alice")

	// the leaver gets nothing before its pong
	send(t, b, websocket.TypePing, nil)
	assert.Equal(t, websocket.TypePong, read(t, b).Type)

	send(t, b, websocket.TypeJoinNote, "N1")
	expectUsers(t, a, "alice", "bob")
	expectUsers(t, b, "alice", "bob")

	require.NoError(t, b.Close())
	expectUsers(t, a, "alice")
	assert.Equal(t, []string{"alice"}, s.registry.Members("N1"))
}

func TestWebSocket_SecondConnectionKeepsUserPresent(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Alice", "alice")
	watcher := s.connect(t, s.signup(t, "Bob", "bob"))
	first := s.connect(t, token)
	second := s.connect(t, token)

	send(t, watcher, websocket.TypeJoinNote, "N1")
	expectUsers(t, watcher, "bob")
	send(t, first, websocket.TypeJoinNote, "N1")
	expectUsers(t, watcher, "bob", "alice")
	send(t, second, websocket.TypeJoinNote, "N1")
	expectUsers(t, watcher, "bob", "alice")

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.manager.ConnectionCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bob", "alice"}, s.registry.Members("N1"))

	require.NoError(t, second.Close())
	expectUsers(t, watcher, "bob")
}

func TestWebSocket_LeaveWithAnotherConnectionStillJoined(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Alice", "alice")
	watcher := s.connect(t, s.signup(t, "Bob", "bob"))
	first := s.connect(t, token)
	second := s.connect(t, token)

	send(t, watcher, websocket.TypeJoinNote, "N1")
	expectUsers(t, watcher, "bob")
	send(t, first, websocket.TypeJoinNote, "N1")
	expectUsers(t, watcher, "bob", "alice")
	send(t, second, websocket.TypeJoinNote, "N1")
	expectUsers(t, watcher, "bob", "alice")

	send(t, first, websocket.TypeLeaveNote, "N1")
	expectUsers(t, watcher, "bob", "alice")

	send(t, second, websocket.TypeLeaveNote, "N1")
	expectUsers(t, watcher, "bob")
	assert.Equal(t, []string{"bob"}, s.registry.Members("N1"))
}

func TestWebSocket_MalformedJoinGetsErrorFrame(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, s.signup(t, "Alice", "alice"))

	for _, payload := range []interface{}{"", map[string]int{"noteId": 7}} {
		send(t, conn, websocket.TypeJoinNote, payload)

		msg := read(t, conn)
		require.Equal(t, websocket.TypeError, msg.Type)
		var body websocket.ErrorPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &body))
		assert.Contains(t, body.Error, string(websocket.TypeJoinNote))
	}
	assert.Empty(t, s.registry.Rooms())
}

func TestWebSocket_CheckOrigin(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "Alice", "alice")

	_, resp, err := ws.DefaultDialer.Dial(s.wsURL(token), http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := ws.DefaultDialer.Dial(s.wsURL(token), http.Header{"Origin": {"http://app.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocket_NoteEvents(t *testing.T) {
	s := newTestServer(t)
	aliceToken := s.signup(t, "Alice", "alice")
	bobToken := s.signup(t, "Bob", "bob")
	a := s.connect(t, aliceToken)
	b := s.connect(t, bobToken)

	code, env := s.call(t, http.MethodPost, "/api/notes", aliceToken, map[string]string{"title": "Plan", "content": "draft"})
	require.Equal(t, http.StatusCreated, code)
	var note domain.NoteResponse
	decodeData(t, env, &note)

	for _, conn := range []*ws.Conn{a, b} {
		msg := expect(t, conn, websocket.MessageType(broadcast.EventNoteCreated))
		var ev struct {
			Text string              `json:"text"`
			Data domain.NoteResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, `A Note with title "Plan" has been created by Alice`, ev.Text)
		assert.Equal(t, note.ID, ev.Data.ID)
	}

	send(t, a, websocket.TypeJoinNote, note.ID)
	expectUsers(t, a, "alice")

	code, _ = s.call(t, http.MethodPut, "/api/notes/"+note.ID, bobToken, map[string]string{"title": "Plan", "content": "final"})
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, websocket.MessageType(broadcast.EventNoteUpdated), read(t, a).Type)
	assert.Equal(t, websocket.MessageType(broadcast.EventNoteUpdatedInRoom), read(t, a).Type)

	// bob is not in the room
	assert.Equal(t, websocket.MessageType(broadcast.EventNoteUpdated), read(t, b).Type)
	send(t, b, websocket.TypePing, nil)
	assert.Equal(t, websocket.TypePong, read(t, b).Type)

	code, _ = s.call(t, http.MethodDelete, "/api/notes/"+note.ID, bobToken, nil)
	require.Equal(t, http.StatusOK, code)

	msg := expect(t, a, websocket.MessageType(broadcast.EventNoteDeleted))
	var deleted struct {
		Text string             `json:"text"`
		Data domain.NoteDeleted `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &deleted))
	assert.Equal(t, `A Note with title "Plan" has been deleted by Bob`, deleted.Text)
	assert.Equal(t, domain.NoteDeleted{NoteID: note.ID, Title: "Plan"}, deleted.Data)
}
