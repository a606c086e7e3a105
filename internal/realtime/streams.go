package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/service"
)

// stream is an open subscription on one connection. The broker feed is
// shared by every subscriber of a topic; view turns the shared snapshot into
// what this connection's user may see.
type stream struct {
	kind      string
	channelID uuid.UUID
	sub       *pubsub.Subscription
	view      func(snapshot any) any

	// dedupe skips a push whose view equals the previous one. Typing and
	// presence views drop entries per user, so a shared change may not be
	// a change for this subscriber.
	dedupe bool
}

// opener validates a subscribe request and opens the stream.
type opener func(ctx context.Context, c *Client, payload json.RawMessage) (*stream, error)

func (h *Hub) openers() map[string]opener {
	return map[string]opener{
		EventSubscribeChannel:       h.subscribeChannel,
		EventSubscribeTyping:        h.subscribeTyping,
		EventSubscribeOnlineUsers:   h.subscribeOnlineUsers,
		EventSubscribeIncomingCalls: h.subscribeIncomingCalls,
	}
}

func (h *Hub) subscribeChannel(ctx context.Context, c *Client, raw json.RawMessage) (*stream, error) {
	var p subscribeChannelPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := h.svc.Channels.IsMember(ctx, c.actor, p.ChannelID); err != nil {
		return nil, err
	}

	channelID := p.ChannelID
	sub := h.broker.Subscribe(c.ctx, pubsub.ChannelTopic(channelID), pubsub.FeedOptions{
		Load: func(ctx context.Context) (any, error) {
			return h.svc.Messages.Snapshot(ctx, channelID)
		},
		Empty: []models.Message{},
	})

	return &stream{
		kind:      pubsub.KindChannel,
		channelID: channelID,
		sub:       sub,
		view: func(snapshot any) any {
			msgs, _ := snapshot.([]models.Message)
			visible := service.VisibleTo(msgs, c.actor.UserID)
			if p.MarkRead {
				if ids := service.Unread(visible, c.actor.UserID); len(ids) > 0 {
					h.svc.Messages.MarkReadAsync(c.actor, channelID, ids)
				}
			}
			return visible
		},
	}, nil
}

func (h *Hub) subscribeTyping(ctx context.Context, c *Client, raw json.RawMessage) (*stream, error) {
	var p channelPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := h.svc.Channels.IsMember(ctx, c.actor, p.ChannelID); err != nil {
		return nil, err
	}

	channelID := p.ChannelID
	sub := h.broker.Subscribe(c.ctx, pubsub.TypingTopic(channelID), pubsub.FeedOptions{
		Load: func(ctx context.Context) (any, error) {
			return h.svc.Typing.ActiveFlags(ctx, channelID, h.svc.Typing.Now())
		},
		Empty:   []models.TypingFlag{},
		Refresh: h.opts.TypingRefresh,
	})

	return &stream{
		kind:      pubsub.KindTyping,
		channelID: channelID,
		sub:       sub,
		dedupe:    true,
		view: func(snapshot any) any {
			flags, _ := snapshot.([]models.TypingFlag)
			return service.TyperIDs(flags, c.actor.UserID)
		},
	}, nil
}

func (h *Hub) subscribeOnlineUsers(ctx context.Context, c *Client, raw json.RawMessage) (*stream, error) {
	var p channelPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := h.svc.Channels.IsMember(ctx, c.actor, p.ChannelID); err != nil {
		return nil, err
	}

	channelID := p.ChannelID
	sub := h.broker.Subscribe(c.ctx, pubsub.PresenceTopic(channelID), pubsub.FeedOptions{
		Load: func(ctx context.Context) (any, error) {
			return h.svc.Presence.OnlineUsers(ctx, channelID)
		},
		Empty:   []models.PresenceRecord{},
		Refresh: h.opts.PresenceRefresh,
	})

	return &stream{
		kind:      pubsub.KindPresence,
		channelID: channelID,
		sub:       sub,
		dedupe:    true,
		view:      func(snapshot any) any { return snapshot },
	}, nil
}

// subscribeIncomingCalls always streams the caller's own calls.
func (h *Hub) subscribeIncomingCalls(_ context.Context, c *Client, _ json.RawMessage) (*stream, error) {
	userID := c.actor.UserID
	sub := h.broker.Subscribe(c.ctx, pubsub.CallsTopic(userID), pubsub.FeedOptions{
		Load: func(ctx context.Context) (any, error) {
			return h.svc.Calls.ListIncoming(ctx, userID)
		},
		Empty: []models.CallSession{},
	})

	return &stream{
		kind: pubsub.KindCalls,
		sub:  sub,
		view: func(snapshot any) any { return snapshot },
	}, nil
}
