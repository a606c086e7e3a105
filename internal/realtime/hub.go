// Package realtime serves the command and subscription interfaces over
// WebSocket.
//
// A connection sends {id, type, payload} events. Commands get one reply that
// echoes the id and carries the {success, data, error, errorCode} envelope.
// subscribe.* events open a stream: the reply names the subscription id, the
// current snapshot follows, and every change after that is pushed as a new
// snapshot until unsubscribe or disconnect.
package realtime

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/huddle/internal/api"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/observ"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/service"
	"go.uber.org/zap"
)

const (
	commandTimeout    = 10 * time.Second
	disconnectTimeout = 5 * time.Second
)

var invalidEvent = api.Fail(apperr.Validation("malformed event"))

func okResult(data any) api.Result { return api.OK(data) }

// Services are the domain services commands and streams call into.
type Services struct {
	Channels *service.ChannelService
	Messages *service.MessageService
	Presence *service.PresenceService
	Typing   *service.TypingService
	Calls    *service.CallService
}

type Options struct {
	// TypingRefresh and PresenceRefresh re-read expiring streams so an
	// indicator disappears without a write.
	TypingRefresh   time.Duration
	PresenceRefresh time.Duration

	// AllowedOrigins lists the browser origins allowed to connect. Empty
	// allows any origin.
	AllowedOrigins []string

	// Limiter, when set, rate limits commands per user.
	Limiter *middleware.LimiterPool
}

// Hub owns every connection of this process.
type Hub struct {
	broker  *pubsub.Broker
	svc     Services
	opts    Options
	logger  *zap.Logger
	metrics *observ.Metrics

	upgrader websocket.Upgrader
	handlers map[string]command
	streams  map[string]opener

	mu      sync.Mutex
	clients map[*Client]struct{}
	// conns counts open connections per user, so a user with two tabs stays
	// online when one closes.
	conns map[uuid.UUID]int

	cleanup sync.WaitGroup
}

func NewHub(broker *pubsub.Broker, svc Services, opts Options, logger *zap.Logger, metrics *observ.Metrics) *Hub {
	if opts.TypingRefresh <= 0 {
		opts.TypingRefresh = time.Second
	}
	if opts.PresenceRefresh <= 0 {
		opts.PresenceRefresh = 10 * time.Second
	}
	h := &Hub{
		broker:  broker,
		svc:     svc,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		clients: make(map[*Client]struct{}),
		conns:   make(map[uuid.UUID]int),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	h.handlers = h.commands()
	h.streams = h.openers()
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.opts.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(h.opts.AllowedOrigins, func(allowed string) bool {
		return strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host)
	})
}

// Serve handles GET /v1/ws. It must run behind middleware.AuthMiddleware.
func (h *Hub) Serve(c *gin.Context) {
	actor := middleware.GetActor(c)
	if actor.UserID == uuid.Nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, api.Fail(apperr.Authentication("no authenticated user")))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, actor)
	h.connect(client)
	go client.writePump()
	client.readPump()
	h.disconnect(client)
}

func (h *Hub) connect(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.conns[c.actor.UserID]++
	h.mu.Unlock()
	h.metrics.ConnectionOpened()

	// A reconnect is a recovery: the user is back online.
	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()
	if err := h.svc.Presence.SetOnline(ctx, c.actor, true); err != nil {
		h.metrics.BestEffortFailed("connect_presence")
		c.logger.Warn("mark online on connect failed", zap.Error(err))
	}
	c.logger.Info("ws connected")
}

// disconnect cancels the client's streams, then clears its typing flags and
// presence in the background. Those writes are best-effort.
func (h *Hub) disconnect(c *Client) {
	channels := c.close()

	h.mu.Lock()
	// Registered before the client leaves the map, so a caller that sees
	// the connection gone and then calls Wait also waits for this cleanup.
	h.cleanup.Add(1)
	delete(h.clients, c)
	h.conns[c.actor.UserID]--
	last := h.conns[c.actor.UserID] <= 0
	if last {
		delete(h.conns, c.actor.UserID)
	}
	h.mu.Unlock()
	h.metrics.ConnectionClosed()
	c.logger.Info("ws disconnected", zap.Int("channels", len(channels)))

	go func() {
		defer h.cleanup.Done()
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()

		if err := h.svc.Typing.ClearAll(ctx, c.actor.UserID, channels); err != nil {
			h.metrics.BestEffortFailed("disconnect_typing")
			c.logger.Warn("clear typing on disconnect failed", zap.Error(err))
		}
		if !last {
			return
		}
		if err := h.svc.Presence.SetOnline(ctx, c.actor, false); err != nil {
			h.metrics.BestEffortFailed("disconnect_presence")
			c.logger.Warn("mark offline on disconnect failed", zap.Error(err))
		}
	}()
}

// dispatch runs one client event and queues its reply. A stream opened by
// the event starts after its reply, so the subscription id reaches the
// client before the first snapshot.
func (h *Hub) dispatch(c *Client, e *Event) {
	start := time.Now()
	result, opened := h.run(c, e)

	code := "OK"
	if !result.Success {
		code = string(result.ErrorCode)
	}
	h.metrics.CommandDone("ws "+e.Type, code, time.Since(start).Seconds())

	typ := EventReply
	if e.Type == EventPing {
		typ = EventPong
	}
	c.reply(Outbound{ID: e.ID, Type: typ, Result: result})
	if opened != nil {
		c.start(opened)
	}
}

func (h *Hub) run(c *Client, e *Event) (api.Result, *stream) {
	if e.Type == EventPing {
		return api.OK(nil), nil
	}
	if h.opts.Limiter != nil && !h.opts.Limiter.Allow(c.actor.UserID.String()) {
		return api.Fail(apperr.New(apperr.KindTransient, "rate limit exceeded, slow down")), nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	if open, ok := h.streams[e.Type]; ok {
		s, err := open(ctx, c, e.Payload)
		if err != nil {
			return h.failed(c, e, err), nil
		}
		return api.OK(subscribedReply{Subscription: s.sub.ID, Stream: s.kind}), s
	}

	cmd, ok := h.handlers[e.Type]
	if !ok {
		return api.Fail(apperr.Validation("unknown event type: " + e.Type)), nil
	}
	data, err := cmd(ctx, c, e.Payload)
	if err != nil {
		return h.failed(c, e, err), nil
	}
	return api.OK(data), nil
}

func (h *Hub) failed(c *Client, e *Event, err error) api.Result {
	switch apperr.KindOf(err) {
	case apperr.KindInternal:
		c.logger.Error("ws command failed", zap.String("type", e.Type), zap.Error(err))
	case apperr.KindTransient:
		c.logger.Warn("ws command failed, store unavailable", zap.String("type", e.Type), zap.Error(err))
	}
	return api.Fail(err)
}

// Connections reports how many sockets are open.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close drops every connection. Each one goes through the normal disconnect
// path; call Wait afterwards for the cleanup writes.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.cancel()
		// Unblocks readPump.
		_ = c.conn.SetReadDeadline(time.Now())
	}
}

// Shutdown closes every connection and waits, until ctx is done, for them
// to go through disconnect and for the cleanup writes to finish.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.Close()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for h.Connections() > 0 {
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.Wait()
	return nil
}

// Wait blocks until every disconnect cleanup has finished.
func (h *Hub) Wait() {
	h.cleanup.Wait()
}
