package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/api"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/service"
)

// Client → server event types. Every command gets exactly one reply that
// echoes the event id.
const (
	EventMessageSend    = "message.send"
	EventMessageEdit    = "message.edit"
	EventMessageDelete  = "message.delete"
	EventMessageHistory = "message.history"
	EventMessageRead    = "message.read"
	EventUnreadCount    = "message.unread"
	EventReactionAdd    = "reaction.add"
	EventReactionRemove = "reaction.remove"

	EventTypingStart = "typing.start"
	EventTypingStop  = "typing.stop"

	EventPresenceSet       = "presence.set"
	EventPresenceHeartbeat = "presence.heartbeat"
	EventPresenceLookup    = "presence.lookup"

	EventCallCreate = "call.create"
	EventCallGet    = "call.get"
	EventCallJoin   = "call.join"
	EventCallReject = "call.reject"
	EventCallEnd    = "call.end"

	EventSubscribeChannel       = "subscribe.channel"
	EventSubscribeTyping        = "subscribe.typing"
	EventSubscribeOnlineUsers   = "subscribe.online_users"
	EventSubscribeIncomingCalls = "subscribe.incoming_calls"
	EventUnsubscribe            = "unsubscribe"

	EventPing = "ping"
)

// Server → client event types.
const (
	EventReply    = "reply"
	EventSnapshot = "snapshot"
	EventPong     = "pong"
)

// Event is what a client sends.
type Event struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is what the server sends: a command reply, or a snapshot pushed
// on an open subscription. Both carry the command envelope.
type Outbound struct {
	ID           string `json:"id,omitempty"`
	Type         string `json:"type"`
	Subscription uint64 `json:"subscription,omitempty"`
	Stream       string `json:"stream,omitempty"`
	api.Result
}

// --- payloads ---

type channelPayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

type sendPayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
	service.SendInput
}

type messagePayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
	MessageID int64     `json:"message_id"`
}

type editPayload struct {
	messagePayload
	Text string `json:"text"`
}

type deletePayload struct {
	messagePayload
	ForEveryone bool `json:"for_everyone"`
}

type reactionPayload struct {
	messagePayload
	Emoji string `json:"emoji"`
}

type historyPayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Before    int64     `json:"before"`
	Limit     int       `json:"limit"`
}

type readPayload struct {
	ChannelID  uuid.UUID `json:"channel_id"`
	MessageIDs []int64   `json:"message_ids"`
}

type presencePayload struct {
	Online *bool `json:"online"`
}

type userPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type callCreatePayload struct {
	ChannelID uuid.UUID       `json:"channel_id"`
	Type      models.CallType `json:"type"`
	Invitees  []uuid.UUID     `json:"invitees"`
}

type callPayload struct {
	CallID uuid.UUID `json:"call_id"`
}

// subscribeChannelPayload: with MarkRead set, every snapshot marks the
// visible unread messages read for the subscriber.
type subscribeChannelPayload struct {
	ChannelID uuid.UUID `json:"channel_id"`
	MarkRead  bool      `json:"mark_read"`
}

type unsubscribePayload struct {
	Subscription uint64 `json:"subscription"`
}

type subscribedReply struct {
	Subscription uint64 `json:"subscription"`
	Stream       string `json:"stream"`
}

// decode unmarshals a payload. A missing payload decodes as {}.
func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Validation("invalid payload: " + err.Error())
	}
	return nil
}

func requireChannel(id uuid.UUID) error {
	if id == uuid.Nil {
		return apperr.Validation("channel_id is required")
	}
	return nil
}
