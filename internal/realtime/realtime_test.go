package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/huddle/internal/auth"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/repository/memory"
	"github.com/lalith-99/huddle/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "ws-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	url    string
	hub    *Hub
	svc    Services
	broker *pubsub.Broker

	ana, ben, dave models.Actor
	channelID      uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	db := memory.New()
	channelRepo := memory.NewChannelStore(db)
	memberRepo := memory.NewMembershipStore(db)

	svc := Services{
		Channels: service.NewChannelService(channelRepo, memberRepo, logger),
		Messages: service.NewMessageService(memory.NewMessageStore(db), channelRepo, memberRepo, service.MessageConfig{
			EditWindow:   time.Hour,
			DeleteWindow: time.Hour,
		}, logger),
		Presence: service.NewPresenceService(memory.NewPresenceStore(db), channelRepo, memberRepo, time.Minute, logger),
		Typing:   service.NewTypingService(memory.NewTypingStore(db), channelRepo, memberRepo, 5*time.Second, logger),
		Calls:    service.NewCallService(memory.NewCallStore(db), channelRepo, memberRepo, logger),
	}
	svc.Messages.SetTyping(svc.Typing)
	svc.Calls.SetAnnouncer(svc.Messages)

	broker := pubsub.NewBroker(logger, nil)
	for _, s := range []interface{ SetNotifier(service.Notifier) }{
		svc.Channels, svc.Messages, svc.Presence, svc.Typing, svc.Calls,
	} {
		s.SetNotifier(broker)
	}

	hub := NewHub(broker, svc, Options{TypingRefresh: 100 * time.Millisecond}, logger, nil)
	r := gin.New()
	r.GET("/v1/ws", middleware.AuthMiddleware(testSecret), hub.Serve)
	srv := httptest.NewServer(r)

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws",
		hub:    hub,
		svc:    svc,
		broker: broker,
		ana:    models.Actor{UserID: uuid.New(), Name: "Ana", Role: "student"},
		ben:    models.Actor{UserID: uuid.New(), Name: "Ben", Role: "student"},
		dave:   models.Actor{UserID: uuid.New(), Name: "Dave", Role: "student"},
	}

	ch, err := svc.Channels.Create(f.ctx, f.ana, "Spanish B1", []uuid.UUID{f.ben.UserID})
	require.NoError(t, err)
	f.channelID = ch.ID

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, hub.Shutdown(ctx))
		svc.Calls.Wait()
		svc.Messages.Wait()
		broker.Close()
		srv.Close()
	})
	return f
}

// inbound is a decoded server event.
type inbound struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Subscription uint64          `json:"subscription"`
	Stream       string          `json:"stream"`
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data"`
	Error        string          `json:"error"`
	ErrorCode    string          `json:"errorCode"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  atomic.Int64
}

func (f *fixture) dial(actor models.Actor) *wsClient {
	f.t.Helper()
	token, err := auth.GenerateToken(&models.User{ID: actor.UserID, DisplayName: actor.Name, Role: actor.Role}, testSecret, time.Hour)
	require.NoError(f.t, err)

	conn, _, err := websocket.DefaultDialer.Dial(f.url+"?token="+token, nil)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { conn.Close() })
	return &wsClient{t: f.t, conn: conn}
}

func (w *wsClient) send(typ string, payload any) string {
	w.t.Helper()
	id := strconv.FormatInt(w.seq.Add(1), 10)
	raw, err := json.Marshal(payload)
	require.NoError(w.t, err)
	require.NoError(w.t, w.conn.WriteJSON(Event{ID: id, Type: typ, Payload: raw}))
	return id
}

func (w *wsClient) next() inbound {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var in inbound
	require.NoError(w.t, w.conn.ReadJSON(&in))
	return in
}

// call sends a command and returns its reply, skipping any snapshots pushed
// in between.
func (w *wsClient) call(typ string, payload any) inbound {
	w.t.Helper()
	id := w.send(typ, payload)
	for {
		in := w.next()
		if in.Type != EventSnapshot && in.ID == id {
			return in
		}
	}
}

// subscribe opens a stream and returns its id.
func (w *wsClient) subscribe(typ string, payload any) uint64 {
	w.t.Helper()
	in := w.call(typ, payload)
	require.True(w.t, in.Success, in.Error)
	var r subscribedReply
	require.NoError(w.t, json.Unmarshal(in.Data, &r))
	return r.Subscription
}

// await reads snapshots of sub until match accepts one.
func await[T any](w *wsClient, sub uint64, match func(T) bool) T {
	w.t.Helper()
	for {
		in := w.next()
		if in.Type != EventSnapshot || in.Subscription != sub {
			continue
		}
		var v T
		require.NoError(w.t, json.Unmarshal(in.Data, &v))
		if match(v) {
			return v
		}
	}
}

func TestChannelStream(t *testing.T) {
	f := newFixture(t)
	ana := f.dial(f.ana)
	ben := f.dial(f.ben)

	sub := ben.subscribe(EventSubscribeChannel, subscribeChannelPayload{ChannelID: f.channelID})
	await(ben, sub, func(msgs []models.Message) bool { return len(msgs) == 0 })

	reply := ana.call(EventMessageSend, map[string]any{"channel_id": f.channelID, "text": "Hola"})
	require.True(t, reply.Success, reply.Error)
	var sent models.Message
	require.NoError(t, json.Unmarshal(reply.Data, &sent))

	msgs := await(ben, sub, func(msgs []models.Message) bool { return len(msgs) == 1 })
	assert.Equal(t, "Hola", msgs[0].Text)
	assert.Equal(t, f.ana.UserID, msgs[0].SenderID)

	// Hiding a message only changes the hider's view.
	reply = ben.call(EventMessageDelete, map[string]any{"channel_id": f.channelID, "message_id": sent.ID})
	require.True(t, reply.Success, reply.Error)
	await(ben, sub, func(msgs []models.Message) bool { return len(msgs) == 0 })

	page, err := f.svc.Messages.List(f.ctx, f.ana, f.channelID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
}

func TestSubscribeMarkRead(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Messages.Send(f.ctx, f.ana, f.channelID, service.SendInput{Text: "¿Listos?"})
	require.NoError(t, err)

	ben := f.dial(f.ben)
	sub := ben.subscribe(EventSubscribeChannel, subscribeChannelPayload{ChannelID: f.channelID, MarkRead: true})
	await(ben, sub, func(msgs []models.Message) bool { return len(msgs) == 1 })

	require.Eventually(t, func() bool {
		n, err := f.svc.Messages.UnreadCount(f.ctx, f.ben, f.channelID)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeRequiresMembership(t *testing.T) {
	f := newFixture(t)
	dave := f.dial(f.dave)

	for _, typ := range []string{EventSubscribeChannel, EventSubscribeTyping, EventSubscribeOnlineUsers} {
		in := dave.call(typ, channelPayload{ChannelID: f.channelID})
		assert.False(t, in.Success, typ)
		assert.Equal(t, "PERMISSION", in.ErrorCode, typ)
	}

	in := dave.call(EventSubscribeChannel, channelPayload{ChannelID: uuid.New()})
	assert.Equal(t, "NOT_FOUND", in.ErrorCode)
}

func TestProtocolErrors(t *testing.T) {
	f := newFixture(t)
	ana := f.dial(f.ana)

	in := ana.call("teleport", nil)
	assert.False(t, in.Success)
	assert.Equal(t, "VALIDATION", in.ErrorCode)

	require.NoError(t, ana.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	in = ana.next()
	assert.Equal(t, EventReply, in.Type)
	assert.Equal(t, "VALIDATION", in.ErrorCode)

	in = ana.call(EventMessageSend, map[string]any{"text": "no channel"})
	assert.Equal(t, "VALIDATION", in.ErrorCode)

	id := ana.send(EventPing, nil)
	in = ana.next()
	assert.Equal(t, EventPong, in.Type)
	assert.Equal(t, id, in.ID)
	assert.True(t, in.Success)
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ben := f.dial(f.ben)

	sub := ben.subscribe(EventSubscribeTyping, channelPayload{ChannelID: f.channelID})
	await(ben, sub, func(ids []uuid.UUID) bool { return len(ids) == 0 })

	in := ben.call(EventUnsubscribe, unsubscribePayload{Subscription: sub})
	require.True(t, in.Success, in.Error)

	in = ben.call(EventUnsubscribe, unsubscribePayload{Subscription: sub})
	assert.Equal(t, "NOT_FOUND", in.ErrorCode)

	// No more pushes on the cancelled stream.
	require.NoError(t, f.svc.Typing.StartTyping(f.ctx, f.ana, f.channelID))
	in = ben.call(EventPing, nil)
	assert.Equal(t, EventPong, in.Type)
}

func TestStreamsCloseAfterLeave(t *testing.T) {
	f := newFixture(t)
	ana := f.dial(f.ana)
	ben := f.dial(f.ben)

	msgSub := ben.subscribe(EventSubscribeChannel, subscribeChannelPayload{ChannelID: f.channelID})
	await(ben, msgSub, func(msgs []models.Message) bool { return len(msgs) == 0 })
	typingSub := ben.subscribe(EventSubscribeTyping, channelPayload{ChannelID: f.channelID})
	await(ben, typingSub, func(ids []uuid.UUID) bool { return len(ids) == 0 })

	require.NoError(t, f.svc.Channels.Leave(f.ctx, f.ben, f.channelID))

	revoked := map[uint64]string{}
	for len(revoked) < 2 {
		in := ben.next()
		if in.Type == EventSnapshot && !in.Success {
			revoked[in.Subscription] = in.ErrorCode
		}
	}
	assert.Equal(t, map[uint64]string{msgSub: "PERMISSION", typingSub: "PERMISSION"}, revoked)

	reply := ana.call(EventMessageSend, map[string]any{"channel_id": f.channelID, "text": "solo para miembros"})
	require.True(t, reply.Success, reply.Error)
	require.NoError(t, f.svc.Typing.StartTyping(f.ctx, f.ana, f.channelID))

	id := ben.send(EventPing, nil)
	for {
		in := ben.next()
		require.NotEqual(t, EventSnapshot, in.Type, "no pushes after leaving")
		if in.ID == id {
			break
		}
	}

	in := ben.call(EventUnsubscribe, unsubscribePayload{Subscription: msgSub})
	assert.Equal(t, "NOT_FOUND", in.ErrorCode)
}

func TestTypingStreamAndDisconnectCleanup(t *testing.T) {
	f := newFixture(t)
	ana := f.dial(f.ana)
	ben := f.dial(f.ben)

	benSub := ben.subscribe(EventSubscribeTyping, channelPayload{ChannelID: f.channelID})
	await(ben, benSub, func(ids []uuid.UUID) bool { return len(ids) == 0 })

	in := ana.call(EventTypingStart, channelPayload{ChannelID: f.channelID})
	require.True(t, in.Success, in.Error)
	typers := await(ben, benSub, func(ids []uuid.UUID) bool { return len(ids) == 1 })
	assert.Equal(t, f.ana.UserID, typers[0])

	// Ana never sees herself.
	anaSub := ana.subscribe(EventSubscribeTyping, channelPayload{ChannelID: f.channelID})
	assert.Empty(t, await(ana, anaSub, func([]uuid.UUID) bool { return true }))

	_, online, err := f.svc.Presence.Lookup(f.ctx, f.ana.UserID)
	require.NoError(t, err)
	assert.True(t, online, "connecting marks the user online")

	require.NoError(t, ana.conn.Close())
	await(ben, benSub, func(ids []uuid.UUID) bool { return len(ids) == 0 })

	require.Eventually(t, func() bool { return f.hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.Wait()
	_, online, err = f.svc.Presence.Lookup(f.ctx, f.ana.UserID)
	require.NoError(t, err)
	assert.False(t, online, "disconnect marks the user offline")
}

func TestSecondConnectionKeepsUserOnline(t *testing.T) {
	f := newFixture(t)
	first := f.dial(f.ana)
	f.dial(f.ana)
	require.Eventually(t, func() bool { return f.hub.Connections() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool { return f.hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.Wait()

	_, online, err := f.svc.Presence.Lookup(f.ctx, f.ana.UserID)
	require.NoError(t, err)
	assert.True(t, online)
}

func TestOnlineUsersStream(t *testing.T) {
	f := newFixture(t)
	ben := f.dial(f.ben)

	sub := ben.subscribe(EventSubscribeOnlineUsers, channelPayload{ChannelID: f.channelID})
	recs := await(ben, sub, func(recs []models.PresenceRecord) bool { return len(recs) == 1 })
	assert.Equal(t, f.ben.UserID, recs[0].UserID)

	f.dial(f.ana)
	recs = await(ben, sub, func(recs []models.PresenceRecord) bool { return len(recs) == 2 })
	assert.Equal(t, []string{"Ana", "Ben"}, []string{recs[0].Name, recs[1].Name})
}

func TestIncomingCallsStream(t *testing.T) {
	f := newFixture(t)
	ana := f.dial(f.ana)
	ben := f.dial(f.ben)

	sub := ben.subscribe(EventSubscribeIncomingCalls, nil)
	await(ben, sub, func(calls []models.CallSession) bool { return len(calls) == 0 })

	in := ana.call(EventCallCreate, callCreatePayload{ChannelID: f.channelID, Type: models.CallTypeVoice})
	require.True(t, in.Success, in.Error)
	var call models.CallSession
	require.NoError(t, json.Unmarshal(in.Data, &call))

	calls := await(ben, sub, func(calls []models.CallSession) bool { return len(calls) == 1 })
	assert.Equal(t, call.ID, calls[0].ID)
	assert.Equal(t, models.CallStatusCalling, calls[0].Status)

	in = ben.call(EventCallJoin, callPayload{CallID: call.ID})
	require.True(t, in.Success, in.Error)
	await(ben, sub, func(calls []models.CallSession) bool {
		return len(calls) == 1 && calls[0].Status == models.CallStatusActive
	})

	in = ana.call(EventCallEnd, callPayload{CallID: call.ID})
	require.True(t, in.Success, in.Error)
	await(ben, sub, func(calls []models.CallSession) bool { return len(calls) == 0 })
}
