package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
)

// Every method takes a context: all of these are network calls against
// Postgres or Redis. Getters return nil, nil when the row does not exist so
// the service layer decides which error kind that is.

// ChannelRepository stores channels and their denormalized summary.
type ChannelRepository interface {
	// Create inserts a new channel and returns it with ID and CreatedAt populated.
	Create(ctx context.Context, name string) (*models.Channel, error)

	// GetByID returns a single channel. Returns nil, nil if not found.
	GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error)

	// ListForUser returns the channels userID is a member of, most recently
	// active first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Channel, error)

	// UpdateLastMessage overwrites the channel summary unless the stored one
	// is for a newer message.
	UpdateLastMessage(ctx context.Context, channelID uuid.UUID, summary models.MessageSummary) error
}

// MembershipRepository handles who belongs to which channel.
type MembershipRepository interface {
	// AddMember adds a user to a channel with the given role. Idempotent.
	AddMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID, role string) error

	// RemoveMember removes a user from a channel. No-op if not a member.
	RemoveMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) error

	// ListMembers returns all members of a channel.
	ListMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error)

	// IsMember checks if a user belongs to a channel. Hot path: called before
	// every command and subscribe.
	IsMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) (bool, error)
}

// MessageRepository is the channel store: an append-mostly log per channel
// with point mutations. Each method is atomic on a single message; concurrent
// point mutations resolve last-write-wins.
type MessageRepository interface {
	// Append assigns the next sequence ID and persists msg as given.
	Append(ctx context.Context, msg *models.Message) (*models.Message, error)

	// GetByID returns nil, nil if the message is not in channelID.
	GetByID(ctx context.Context, channelID uuid.UUID, messageID int64) (*models.Message, error)

	// ListByChannel returns messages newest first. before=0 starts from the latest.
	ListByChannel(ctx context.Context, channelID uuid.UUID, before int64, limit int) ([]models.Message, error)

	// UpdateText edits a message that is not tombstoned. Returns nil, nil when
	// nothing matched (missing or tombstoned).
	UpdateText(ctx context.Context, channelID uuid.UUID, messageID int64, text string, editedAt time.Time) (*models.Message, error)

	// Tombstone replaces the content with text and marks the message deleted
	// for everyone. Returns nil, nil if the message does not exist.
	Tombstone(ctx context.Context, channelID uuid.UUID, messageID int64, text string) (*models.Message, error)

	// HideFor adds userID to the message's deleted-by set.
	HideFor(ctx context.Context, channelID uuid.UUID, messageID int64, userID uuid.UUID) error

	// AddReaction and RemoveReaction are idempotent set operations keyed by emoji.
	AddReaction(ctx context.Context, channelID uuid.UUID, messageID int64, emoji string, userID uuid.UUID) error
	RemoveReaction(ctx context.Context, channelID uuid.UUID, messageID int64, emoji string, userID uuid.UUID) error

	// MarkRead adds userID to read-by on every listed message the user did not
	// send and has not read yet. Returns how many messages changed.
	MarkRead(ctx context.Context, channelID uuid.UUID, messageIDs []int64, userID uuid.UUID) (int, error)

	// UnreadCount counts messages not sent by userID that userID has not read.
	UnreadCount(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) (int, error)
}

// UserRepository backs the identity stand-in.
type UserRepository interface {
	Create(ctx context.Context, email, displayName, role, level, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// CallRepository stores call sessions and their participants.
type CallRepository interface {
	// Create persists a new session together with its participants.
	Create(ctx context.Context, call *models.CallSession) error

	// GetByID returns nil, nil if the call does not exist.
	GetByID(ctx context.Context, callID uuid.UUID) (*models.CallSession, error)

	// UpsertParticipant sets userID's participant entry if the call's status
	// is one of when, checked atomically with the write. It reports whether
	// the entry was written.
	UpsertParticipant(ctx context.Context, callID uuid.UUID, userID uuid.UUID, p models.Participant, when []models.CallStatus) (bool, error)

	// Transition moves the call to update.Status if its current status is one
	// of from. It reports whether the transition happened.
	Transition(ctx context.Context, callID uuid.UUID, from []models.CallStatus, update CallUpdate) (bool, error)

	// ListForUser returns calls where userID is a participant and the status
	// is one of statuses, newest first.
	ListForUser(ctx context.Context, userID uuid.UUID, statuses []models.CallStatus) ([]models.CallSession, error)
}

// CallUpdate is the set of fields a status transition writes.
type CallUpdate struct {
	Status     models.CallStatus
	EndedAt    *time.Time
	EndedBy    *uuid.UUID
	RejectedBy *uuid.UUID
}

// PresenceRepository stores per-user presence records.
type PresenceRepository interface {
	// Upsert writes the whole record.
	Upsert(ctx context.Context, rec models.PresenceRecord) error

	// Touch refreshes LastSeen only, creating a record if there is none.
	Touch(ctx context.Context, userID uuid.UUID, at time.Time) error

	// Get returns nil, nil when the user has never reported presence.
	Get(ctx context.Context, userID uuid.UUID) (*models.PresenceRecord, error)

	// GetMany returns the records that exist for userIDs, in no particular order.
	GetMany(ctx context.Context, userIDs []uuid.UUID) ([]models.PresenceRecord, error)

	// ClearStale sets IsOnline=false on every record claiming online whose
	// LastSeen is before cutoff. Returns the affected user ids.
	ClearStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// TypingRepository stores typing flags. Deletion is best-effort; readers
// must filter by age.
type TypingRepository interface {
	Set(ctx context.Context, flag models.TypingFlag) error
	Delete(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) error
	List(ctx context.Context, channelID uuid.UUID) ([]models.TypingFlag, error)
}
