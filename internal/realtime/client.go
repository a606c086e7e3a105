package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/huddle/internal/api"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/models"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufSize    = 64
)

// Client is one WebSocket connection and the registry of streams opened on
// it. Cancelling the connection context ends every stream.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	actor models.Actor

	ctx    context.Context
	cancel context.CancelFunc

	send chan []byte

	mu       sync.Mutex
	streams  map[uint64]*stream
	channels map[uuid.UUID]struct{}
	forwards sync.WaitGroup

	logger *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, actor models.Actor) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:      hub,
		conn:     conn,
		actor:    actor,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan []byte, sendBufSize),
		streams:  make(map[uint64]*stream),
		channels: make(map[uuid.UUID]struct{}),
		logger:   hub.logger.With(zap.String("user_id", actor.UserID.String())),
	}
}

// readPump reads events until the connection fails or the client goes away.
// Commands run one at a time, in arrival order.
func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("ws read failed", zap.Error(err))
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.reply(Outbound{Type: EventReply, Result: invalidEvent})
			continue
		}
		c.hub.dispatch(c, &event)
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("ws write failed", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// reply queues out, waiting for room in the send buffer. It gives up when
// the connection closes.
func (c *Client) reply(out Outbound) bool {
	data, err := json.Marshal(out)
	if err != nil {
		c.logger.Error("marshal outbound event", zap.String("type", out.Type), zap.Error(err))
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// start registers s and begins forwarding its snapshots.
func (c *Client) start(s *stream) {
	c.mu.Lock()
	c.streams[s.sub.ID] = s
	if s.channelID != uuid.Nil {
		c.channels[s.channelID] = struct{}{}
	}
	c.forwards.Add(1)
	c.mu.Unlock()

	go c.forward(s)
}

// forward pushes every snapshot of s until the subscription is cancelled.
// A slow connection blocks here while the subscription keeps only the
// newest snapshot.
func (c *Client) forward(s *stream) {
	defer c.forwards.Done()

	var last any
	pushed := false
	for snapshot := range s.sub.C() {
		if !c.active(s.sub.ID) {
			continue
		}
		if err := c.stillMember(s); err != nil {
			c.revoke(s, err)
			return
		}
		view := s.view(snapshot)
		if s.dedupe && pushed && equalJSON(last, view) {
			continue
		}
		last, pushed = view, true

		ok := c.reply(Outbound{
			Type:         EventSnapshot,
			Subscription: s.sub.ID,
			Stream:       s.kind,
			Result:       okResult(view),
		})
		if !ok {
			s.sub.Cancel()
			return
		}
	}
}

// stillMember re-checks channel access before a push. Membership is checked
// on subscribe only, so a user who leaves would otherwise keep receiving the
// shared feed. Store failures let the push through; only a definite answer
// closes the stream.
func (c *Client) stillMember(s *stream) error {
	if s.channelID == uuid.Nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	err := c.hub.svc.Channels.IsMember(ctx, c.actor, s.channelID)
	switch apperr.KindOf(err) {
	case apperr.KindPermission, apperr.KindNotFound:
		return err
	}
	if err != nil {
		c.logger.Warn("stream membership check failed", zap.String("stream", s.kind), zap.Error(err))
	}
	return nil
}

// revoke drops s and tells the client why with a final failed snapshot.
func (c *Client) revoke(s *stream, err error) {
	if !c.unsubscribe(s.sub.ID) {
		return
	}
	c.logger.Debug("stream revoked", zap.String("stream", s.kind), zap.String("channel_id", s.channelID.String()))
	c.reply(Outbound{
		Type:         EventSnapshot,
		Subscription: s.sub.ID,
		Stream:       s.kind,
		Result:       api.Fail(err),
	})
}

func (c *Client) unsubscribe(id uint64) bool {
	c.mu.Lock()
	s, ok := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()

	if ok {
		s.sub.Cancel()
	}
	return ok
}

func (c *Client) active(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[id]
	return ok
}

// track remembers a channel whose typing flag must be cleared on disconnect.
func (c *Client) track(channelID uuid.UUID) {
	c.mu.Lock()
	c.channels[channelID] = struct{}{}
	c.mu.Unlock()
}

// close ends the connection: every stream is cancelled and its forwarder has
// returned before close does. It returns the channels the client touched.
func (c *Client) close() []uuid.UUID {
	c.cancel()

	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[uint64]*stream)
	channels := make([]uuid.UUID, 0, len(c.channels))
	for id := range c.channels {
		channels = append(channels, id)
	}
	c.mu.Unlock()

	for _, s := range streams {
		s.sub.Cancel()
	}
	c.forwards.Wait()
	return channels
}

// equalJSON compares two views by their wire form.
func equalJSON(a, b any) bool {
	x, err := json.Marshal(a)
	if err != nil {
		return false
	}
	y, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(x) == string(y)
}
