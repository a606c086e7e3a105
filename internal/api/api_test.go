package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/repository/memory"
	"github.com/lalith-99/huddle/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	t        *testing.T
	router   *gin.Engine
	messages *service.MessageService
	calls    *service.CallService
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"errorCode"`
}

type account struct {
	token string
	id    uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	db := memory.New()
	channelRepo := memory.NewChannelStore(db)
	memberRepo := memory.NewMembershipStore(db)
	userRepo := memory.NewUserStore(db)

	channels := service.NewChannelService(channelRepo, memberRepo, logger)
	messages := service.NewMessageService(memory.NewMessageStore(db), channelRepo, memberRepo, service.MessageConfig{
		EditWindow:   48 * time.Hour,
		DeleteWindow: 7 * time.Minute,
	}, logger)
	presence := service.NewPresenceService(memory.NewPresenceStore(db), channelRepo, memberRepo, 2*time.Minute, logger)
	typing := service.NewTypingService(memory.NewTypingStore(db), channelRepo, memberRepo, 5*time.Second, logger)
	calls := service.NewCallService(memory.NewCallStore(db), channelRepo, memberRepo, logger)
	messages.SetTyping(typing)
	calls.SetAnnouncer(messages)

	router := NewRouter(Handlers{
		Auth:       NewAuthHandler(userRepo, testSecret, time.Hour, logger),
		User:       NewUserHandler(userRepo, logger),
		Channel:    NewChannelHandler(channels, logger),
		Membership: NewMembershipHandler(channels, logger),
		Message:    NewMessageHandler(messages, logger),
		Presence:   NewPresenceHandler(presence, logger),
		Typing:     NewTypingHandler(typing, logger),
		Call:       NewCallHandler(calls, logger),
	}, RouterOptions{JWTSecret: testSecret, Logger: logger})

	s := &testServer{t: t, router: router, messages: messages, calls: calls}
	t.Cleanup(func() {
		calls.Wait()
		messages.Wait()
	})
	return s
}

func (s *testServer) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (s *testServer) signup(email, name, role string) account {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/v1/auth/signup", "", gin.H{
		"email": email, "password": "correct-horse", "display_name": name, "role": role,
	})
	require.Equal(s.t, http.StatusCreated, code, env.Error)
	tok := decode[authResponse](s.t, env).Token

	code, env = s.do(http.MethodGet, "/v1/users/me", tok, nil)
	require.Equal(s.t, http.StatusOK, code)
	return account{token: tok, id: decode[models.User](s.t, env).ID}
}

func (s *testServer) channel(owner account, members ...account) uuid.UUID {
	s.t.Helper()
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.id
	}
	code, env := s.do(http.MethodPost, "/v1/channels", owner.token, gin.H{"name": "Spanish B1", "member_ids": ids})
	require.Equal(s.t, http.StatusCreated, code, env.Error)
	return decode[models.Channel](s.t, env).ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	ana := s.signup("ana@example.com", "Ana", "student")

	t.Run("duplicate email", func(t *testing.T) {
		code, env := s.do(http.MethodPost, "/v1/auth/signup", "", gin.H{
			"email": "ANA@example.com", "password": "another-pass", "display_name": "Ana 2",
		})
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "INVALID_STATE", env.ErrorCode)
	})

	t.Run("admin is not self-assignable", func(t *testing.T) {
		code, env := s.do(http.MethodPost, "/v1/auth/signup", "", gin.H{
			"email": "root@example.com", "password": "another-pass", "display_name": "Root", "role": "admin",
		})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "VALIDATION", env.ErrorCode)
	})

	t.Run("login", func(t *testing.T) {
		code, env := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ana@example.com", "password": "correct-horse"})
		require.Equal(t, http.StatusOK, code)
		assert.NotEmpty(t, decode[authResponse](t, env).Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		code, env := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ana@example.com", "password": "wrong-horse"})
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "AUTHENTICATION", env.ErrorCode)
	})

	t.Run("unknown email", func(t *testing.T) {
		code, env := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "nobody@example.com", "password": "whatever1"})
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "invalid email or password", env.Error)
	})

	t.Run("me", func(t *testing.T) {
		code, env := s.do(http.MethodGet, "/v1/users/me", ana.token, nil)
		require.Equal(t, http.StatusOK, code)
		me := decode[models.User](t, env)
		assert.Equal(t, "Ana", me.DisplayName)
		assert.Equal(t, "student", me.Role)
	})

	t.Run("no token", func(t *testing.T) {
		code, env := s.do(http.MethodGet, "/v1/channels", "", nil)
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.False(t, env.Success)
		assert.Equal(t, "AUTHENTICATION", env.ErrorCode)
	})
}

func TestMessages(t *testing.T) {
	s := newTestServer(t)
	ana := s.signup("ana@example.com", "Ana", "student")
	ben := s.signup("ben@example.com", "Ben", "student")
	dave := s.signup("dave@example.com", "Dave", "student")
	ch := s.channel(ana, ben)
	base := "/v1/channels/" + ch.String()

	code, env := s.do(http.MethodPost, base+"/messages", ana.token, gin.H{"text": "Hola"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	hola := decode[models.Message](t, env)
	assert.Equal(t, "Hola", hola.Text)
	assert.Equal(t, models.MessageStatusSent, hola.Status)

	code, env = s.do(http.MethodPost, base+"/messages", ben.token, gin.H{"text": "¿Qué tal?", "reply_to_id": hola.ID})
	require.Equal(t, http.StatusCreated, code, env.Error)

	t.Run("non-member", func(t *testing.T) {
		code, env := s.do(http.MethodPost, base+"/messages", dave.token, gin.H{"text": "hi"})
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, "PERMISSION", env.ErrorCode)
	})

	t.Run("empty text", func(t *testing.T) {
		code, env := s.do(http.MethodPost, base+"/messages", ana.token, gin.H{"text": "  "})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "VALIDATION", env.ErrorCode)
	})

	t.Run("unknown channel", func(t *testing.T) {
		code, env := s.do(http.MethodGet, "/v1/channels/"+uuid.NewString()+"/messages", ana.token, nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "NOT_FOUND", env.ErrorCode)
	})

	t.Run("history", func(t *testing.T) {
		code, env := s.do(http.MethodGet, base+"/messages?limit=1", ana.token, nil)
		require.Equal(t, http.StatusOK, code)
		page := decode[service.MessagePage](t, env)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "¿Qué tal?", page.Messages[0].Text)
		assert.True(t, page.HasMore)

		code, env = s.do(http.MethodGet, base+"/messages?before="+itoa(page.NextBefore), ana.token, nil)
		require.Equal(t, http.StatusOK, code)
		page = decode[service.MessagePage](t, env)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "Hola", page.Messages[0].Text)
		assert.False(t, page.HasMore)
	})

	t.Run("bad limit", func(t *testing.T) {
		code, _ := s.do(http.MethodGet, base+"/messages?limit=zero", ana.token, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("edit by someone else", func(t *testing.T) {
		code, env := s.do(http.MethodPatch, base+"/messages/"+itoa(hola.ID), ben.token, gin.H{"text": "hack"})
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, "PERMISSION", env.ErrorCode)
	})

	t.Run("edit", func(t *testing.T) {
		code, env := s.do(http.MethodPatch, base+"/messages/"+itoa(hola.ID), ana.token, gin.H{"text": "¡Hola!"})
		require.Equal(t, http.StatusOK, code, env.Error)
		msg := decode[models.Message](t, env)
		assert.True(t, msg.IsEdited)
		assert.Equal(t, "¡Hola!", msg.Text)
	})

	t.Run("reactions", func(t *testing.T) {
		path := base + "/messages/" + itoa(hola.ID) + "/reactions"
		code, env := s.do(http.MethodPost, path, ben.token, gin.H{"emoji": "👍"})
		require.Equal(t, http.StatusOK, code, env.Error)
		assert.Equal(t, []uuid.UUID{ben.id}, decode[models.Message](t, env).Reactions["👍"])

		code, env = s.do(http.MethodDelete, path+"/"+url.PathEscape("👍"), ben.token, nil)
		require.Equal(t, http.StatusOK, code, env.Error)
		assert.NotContains(t, decode[models.Message](t, env).Reactions, "👍")
	})

	t.Run("unread and read", func(t *testing.T) {
		code, env := s.do(http.MethodGet, base+"/unread", ben.token, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 1, decode[map[string]int](t, env)["unread"])

		code, env = s.do(http.MethodPost, base+"/read", ben.token, gin.H{"message_ids": []int64{hola.ID}})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 1, decode[map[string]int](t, env)["marked"])

		_, env = s.do(http.MethodGet, base+"/unread", ben.token, nil)
		assert.Equal(t, 0, decode[map[string]int](t, env)["unread"])
	})

	t.Run("bad delete scope", func(t *testing.T) {
		code, _ := s.do(http.MethodDelete, base+"/messages/"+itoa(hola.ID)+"?for=nobody", ana.token, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("delete for everyone", func(t *testing.T) {
		code, env := s.do(http.MethodDelete, base+"/messages/"+itoa(hola.ID)+"?for=everyone", ana.token, nil)
		require.Equal(t, http.StatusOK, code, env.Error)
		msg := decode[models.Message](t, env)
		assert.True(t, msg.DeletedForEveryone)
		assert.Equal(t, models.MessageTypeSystemDeleted, msg.Type)

		code, env = s.do(http.MethodPatch, base+"/messages/"+itoa(hola.ID), ana.token, gin.H{"text": "back"})
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "INVALID_STATE", env.ErrorCode)
	})

	t.Run("invalid message id", func(t *testing.T) {
		code, env := s.do(http.MethodPatch, base+"/messages/abc", ana.token, gin.H{"text": "x"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "VALIDATION", env.ErrorCode)
	})
}

func TestChannelsAndMembership(t *testing.T) {
	s := newTestServer(t)
	ana := s.signup("ana@example.com", "Ana", "student")
	ben := s.signup("ben@example.com", "Ben", "student")
	cara := s.signup("cara@example.com", "Cara", "teacher")
	ch := s.channel(ana)
	base := "/v1/channels/" + ch.String()

	code, env := s.do(http.MethodGet, "/v1/channels", ana.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]models.Channel](t, env), 1)

	code, env = s.do(http.MethodGet, "/v1/channels", ben.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]models.Channel](t, env))

	code, _ = s.do(http.MethodGet, base, ben.token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(http.MethodPost, base+"/join", ben.token, nil)
	require.Equal(t, http.StatusOK, code, env.Error)

	// Ben is a member but not the owner.
	code, env = s.do(http.MethodPost, base+"/members", ben.token, gin.H{"user_id": cara.id})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PERMISSION", env.ErrorCode)

	code, env = s.do(http.MethodPost, base+"/members", ana.token, gin.H{"user_id": cara.id})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = s.do(http.MethodGet, base+"/members", cara.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]models.ChannelMember](t, env), 3)

	code, _ = s.do(http.MethodDelete, base+"/members/me", ben.token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodGet, base, ben.token, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestPresenceAndTyping(t *testing.T) {
	s := newTestServer(t)
	ana := s.signup("ana@example.com", "Ana", "student")
	ben := s.signup("ben@example.com", "Ben", "student")
	ch := s.channel(ana, ben)
	base := "/v1/channels/" + ch.String()

	code, env := s.do(http.MethodGet, "/v1/presence/"+ana.id.String(), ben.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[presenceView](t, env).Online)

	code, env = s.do(http.MethodPut, "/v1/presence", ana.token, gin.H{"online": true})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = s.do(http.MethodGet, "/v1/presence/"+ana.id.String(), ben.token, nil)
	require.Equal(t, http.StatusOK, code)
	view := decode[presenceView](t, env)
	assert.True(t, view.Online)
	assert.Equal(t, "Ana", view.Name)

	code, env = s.do(http.MethodGet, base+"/online", ben.token, nil)
	require.Equal(t, http.StatusOK, code)
	online := decode[[]models.PresenceRecord](t, env)
	require.Len(t, online, 1)
	assert.Equal(t, ana.id, online[0].UserID)

	code, _ = s.do(http.MethodPut, "/v1/presence", ana.token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/v1/presence/heartbeat", ana.token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodPost, base+"/typing", ana.token, nil)
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = s.do(http.MethodGet, base+"/typing", ben.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []uuid.UUID{ana.id}, decode[[]uuid.UUID](t, env))

	_, env = s.do(http.MethodGet, base+"/typing", ana.token, nil)
	assert.Empty(t, decode[[]uuid.UUID](t, env))

	code, _ = s.do(http.MethodDelete, base+"/typing", ana.token, nil)
	require.Equal(t, http.StatusOK, code)
	_, env = s.do(http.MethodGet, base+"/typing", ben.token, nil)
	assert.Empty(t, decode[[]uuid.UUID](t, env))
}

func TestCalls(t *testing.T) {
	s := newTestServer(t)
	ana := s.signup("ana@example.com", "Ana", "student")
	ben := s.signup("ben@example.com", "Ben", "student")
	ch := s.channel(ana, ben)

	code, env := s.do(http.MethodPost, "/v1/channels/"+ch.String()+"/calls", ana.token, gin.H{"type": "video"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	call := decode[models.CallSession](t, env)
	assert.Equal(t, models.CallStatusCalling, call.Status)
	assert.Contains(t, call.Participants, ben.id)

	code, env = s.do(http.MethodGet, "/v1/calls/incoming", ben.token, nil)
	require.Equal(t, http.StatusOK, code)
	incoming := decode[[]models.CallSession](t, env)
	require.Len(t, incoming, 1)
	assert.Equal(t, call.ID, incoming[0].ID)

	// The initiator cannot reject their own call.
	code, env = s.do(http.MethodPost, "/v1/calls/"+call.ID.String()+"/reject", ana.token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PERMISSION", env.ErrorCode)

	code, env = s.do(http.MethodPost, "/v1/calls/"+call.ID.String()+"/reject", ben.token, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, models.CallStatusRejected, decode[models.CallSession](t, env).Status)

	code, env = s.do(http.MethodPost, "/v1/calls/"+call.ID.String()+"/join", ben.token, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", env.ErrorCode)

	code, _ = s.do(http.MethodGet, "/v1/calls/"+uuid.NewString(), ana.token, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/v1/channels/"+ch.String()+"/calls", ana.token, gin.H{"type": "hologram"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
