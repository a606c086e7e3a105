package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/models"
)

// command handles one client event and returns the reply data.
type command func(ctx context.Context, c *Client, payload json.RawMessage) (any, error)

func (h *Hub) commands() map[string]command {
	return map[string]command{
		EventMessageSend:    h.sendMessage,
		EventMessageEdit:    h.editMessage,
		EventMessageDelete:  h.deleteMessage,
		EventMessageHistory: h.history,
		EventMessageRead:    h.markRead,
		EventUnreadCount:    h.unreadCount,
		EventReactionAdd:    h.react(true),
		EventReactionRemove: h.react(false),

		EventTypingStart: h.typing(true),
		EventTypingStop:  h.typing(false),

		EventPresenceSet:       h.setPresence,
		EventPresenceHeartbeat: h.heartbeat,
		EventPresenceLookup:    h.lookupPresence,

		EventCallCreate: h.createCall,
		EventCallGet:    h.callOp(h.svc.Calls.Get),
		EventCallJoin:   h.callOp(h.svc.Calls.Join),
		EventCallReject: h.callOp(h.svc.Calls.Reject),
		EventCallEnd:    h.callOp(h.svc.Calls.End),

		EventUnsubscribe: h.unsubscribe,
	}
}

func (h *Hub) sendMessage(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p sendPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := requireChannel(p.ChannelID); err != nil {
		return nil, err
	}
	return h.svc.Messages.Send(ctx, c.actor, p.ChannelID, p.SendInput)
}

func (h *Hub) editMessage(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p editPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return h.svc.Messages.Edit(ctx, c.actor, p.ChannelID, p.MessageID, p.Text)
}

func (h *Hub) deleteMessage(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p deletePayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return h.svc.Messages.Delete(ctx, c.actor, p.ChannelID, p.MessageID, p.ForEveryone)
}

func (h *Hub) history(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p historyPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.Before < 0 || p.Limit < 0 {
		return nil, apperr.Validation("before and limit must not be negative")
	}
	return h.svc.Messages.List(ctx, c.actor, p.ChannelID, p.Before, p.Limit)
}

func (h *Hub) markRead(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p readPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	n, err := h.svc.Messages.MarkRead(ctx, c.actor, p.ChannelID, p.MessageIDs)
	if err != nil {
		return nil, err
	}
	return map[string]int{"marked": n}, nil
}

func (h *Hub) unreadCount(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p channelPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	n, err := h.svc.Messages.UnreadCount(ctx, c.actor, p.ChannelID)
	if err != nil {
		return nil, err
	}
	return map[string]int{"unread": n}, nil
}

func (h *Hub) react(add bool) command {
	return func(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
		var p reactionPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if add {
			return h.svc.Messages.AddReaction(ctx, c.actor, p.ChannelID, p.MessageID, p.Emoji)
		}
		return h.svc.Messages.RemoveReaction(ctx, c.actor, p.ChannelID, p.MessageID, p.Emoji)
	}
}

func (h *Hub) typing(start bool) command {
	return func(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
		var p channelPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if err := requireChannel(p.ChannelID); err != nil {
			return nil, err
		}
		if start {
			if err := h.svc.Typing.StartTyping(ctx, c.actor, p.ChannelID); err != nil {
				return nil, err
			}
			// Cleared on disconnect even if the channel stream was never opened.
			c.track(p.ChannelID)
		} else if err := h.svc.Typing.StopTyping(ctx, c.actor, p.ChannelID); err != nil {
			return nil, err
		}
		return map[string]bool{"typing": start}, nil
	}
}

func (h *Hub) setPresence(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p presencePayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.Online == nil {
		return nil, apperr.Validation("online is required")
	}
	if err := h.svc.Presence.SetOnline(ctx, c.actor, *p.Online); err != nil {
		return nil, err
	}
	return map[string]bool{"online": *p.Online}, nil
}

func (h *Hub) heartbeat(ctx context.Context, c *Client, _ json.RawMessage) (any, error) {
	if err := h.svc.Presence.Heartbeat(ctx, c.actor); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type presenceView struct {
	models.PresenceRecord
	Online bool `json:"online"`
}

func (h *Hub) lookupPresence(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p userPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.UserID == uuid.Nil {
		return nil, apperr.Validation("user_id is required")
	}
	rec, online, err := h.svc.Presence.Lookup(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &models.PresenceRecord{UserID: p.UserID}
	}
	return presenceView{PresenceRecord: *rec, Online: online}, nil
}

func (h *Hub) createCall(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p callCreatePayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if err := requireChannel(p.ChannelID); err != nil {
		return nil, err
	}
	return h.svc.Calls.Create(ctx, c.actor, p.ChannelID, p.Type, p.Invitees)
}

type callFunc func(ctx context.Context, actor models.Actor, callID uuid.UUID) (*models.CallSession, error)

func (h *Hub) callOp(op callFunc) command {
	return func(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
		var p callPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if p.CallID == uuid.Nil {
			return nil, apperr.Validation("call_id is required")
		}
		return op(ctx, c.actor, p.CallID)
	}
}

func (h *Hub) unsubscribe(_ context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p unsubscribePayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if !c.unsubscribe(p.Subscription) {
		return nil, apperr.NotFound("subscription not found")
	}
	return map[string]uint64{"subscription": p.Subscription}, nil
}
