package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Actor is the authenticated caller of a service operation.
//
// It is built once per connection (HTTP request or WebSocket session) from
// the JWT claims and passed explicitly into every service call. Nothing about
// the current user lives in package-level state.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Role   string    `json:"role"`
	Level  string    `json:"level,omitempty"`
}

// User is a person known to the identity stand-in.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	Level        string    `json:"level,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Channel is a scoped message stream, one per course or group.
type Channel struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	CreatedAt   time.Time       `json:"created_at"`
	LastMessage *MessageSummary `json:"last_message,omitempty"`
}

// MessageSummary is the denormalized "last message" preview kept on a channel.
type MessageSummary struct {
	MessageID  int64       `json:"message_id"`
	Text       string      `json:"text"`
	Type       MessageType `json:"type"`
	SenderID   uuid.UUID   `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ChannelMember is the join table between channels and users.
type ChannelMember struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
}

type MessageType string

const (
	MessageTypeText          MessageType = "text"
	MessageTypeVoice         MessageType = "voice"
	MessageTypeImage         MessageType = "image"
	MessageTypeVideo         MessageType = "video"
	MessageTypeFile          MessageType = "file"
	MessageTypeSystemDeleted MessageType = "system-deleted"
	MessageTypeCall          MessageType = "call"
)

// Valid reports whether a client may send a message of this type.
// system-deleted and call are produced by the server only.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeVoice, MessageTypeImage, MessageTypeVideo, MessageTypeFile:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// TombstoneText replaces the text of a message deleted for everyone.
const TombstoneText = "This message was deleted"

// Attachment references a blob held by the external file store.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Name     string `json:"name"`
}

// Message is a single entry in a channel log.
//
// ID is a store-assigned, monotonically increasing sequence. Ordering a
// channel by ID is ordering it by commit.
type Message struct {
	ID                 int64                  `json:"id"`
	ChannelID          uuid.UUID              `json:"channel_id"`
	Text               string                 `json:"text"`
	Type               MessageType            `json:"type"`
	SenderID           uuid.UUID              `json:"sender_id"`
	SenderName         string                 `json:"sender_name"`
	SenderRole         string                 `json:"sender_role"`
	CreatedAt          time.Time              `json:"created_at"`
	Status             MessageStatus          `json:"status"`
	ReadBy             []uuid.UUID            `json:"read_by"`
	Reactions          map[string][]uuid.UUID `json:"reactions"`
	EditedAt           *time.Time             `json:"edited_at,omitempty"`
	IsEdited           bool                   `json:"is_edited"`
	DeletedBy          []uuid.UUID            `json:"deleted_by"`
	DeletedForEveryone bool                   `json:"deleted_for_everyone"`
	ReplyToID          *int64                 `json:"reply_to_id,omitempty"`
	Attachment         *Attachment            `json:"attachment,omitempty"`
}

// IsReadBy reports whether userID is in the read set.
func (m *Message) IsReadBy(userID uuid.UUID) bool {
	return slices.Contains(m.ReadBy, userID)
}

// IsHiddenFor reports whether userID deleted the message for themselves.
func (m *Message) IsHiddenFor(userID uuid.UUID) bool {
	return slices.Contains(m.DeletedBy, userID)
}

// IsUnreadFor reports whether the message counts towards userID's unread total.
func (m *Message) IsUnreadFor(userID uuid.UUID) bool {
	return m.SenderID != userID && !m.IsReadBy(userID)
}

// DeriveStatus returns read once anyone other than the sender has read it.
func (m *Message) DeriveStatus() MessageStatus {
	for _, id := range m.ReadBy {
		if id != m.SenderID {
			return MessageStatusRead
		}
	}
	if m.Status == "" {
		return MessageStatusSent
	}
	return m.Status
}

// Summary builds the channel preview for this message.
func (m *Message) Summary() MessageSummary {
	text := m.Text
	if r := []rune(text); len(r) > 120 {
		text = string(r[:120])
	}
	return MessageSummary{
		MessageID:  m.ID,
		Text:       text,
		Type:       m.Type,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		CreatedAt:  m.CreatedAt,
	}
}

// PresenceRecord is a user's last reported presence.
//
// IsOnline is only a hint. LastSeen is authoritative; see IsLive in the
// service package.
type PresenceRecord struct {
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
	Name     string    `json:"name,omitempty"`
	Role     string    `json:"role,omitempty"`
	Level    string    `json:"level,omitempty"`
}

// TypingFlag marks a user as typing in a channel. Readers treat it as
// expired once it is older than the typing TTL.
type TypingFlag struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
	UserName  string    `json:"user_name"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusCalling  CallStatus = "calling"
	CallStatusActive   CallStatus = "active"
	CallStatusEnded    CallStatus = "ended"
	CallStatusRejected CallStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded || s == CallStatusRejected
}

// Participant is one user's membership in a call.
type Participant struct {
	Joined   bool       `json:"joined"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
}

// CallSession is the signaling record of a voice or video call.
type CallSession struct {
	ID           uuid.UUID                 `json:"id"`
	ChannelID    uuid.UUID                 `json:"channel_id"`
	Type         CallType                  `json:"type"`
	InitiatorID  uuid.UUID                 `json:"initiator_id"`
	Participants map[uuid.UUID]Participant `json:"participants"`
	Status       CallStatus                `json:"status"`
	CreatedAt    time.Time                 `json:"created_at"`
	EndedAt      *time.Time                `json:"ended_at,omitempty"`
	EndedBy      *uuid.UUID                `json:"ended_by,omitempty"`
	RejectedBy   *uuid.UUID                `json:"rejected_by,omitempty"`
}

// HasParticipant reports whether userID was invited to or joined the call.
func (c *CallSession) HasParticipant(userID uuid.UUID) bool {
	_, ok := c.Participants[userID]
	return ok
}
