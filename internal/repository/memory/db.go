// Package memory implements the repository interfaces in process memory.
//
// It backs STORE=memory (single-instance development) and the service
// tests. Every returned value is a deep copy, so callers can never mutate
// stored state without going through a store method.
package memory

import (
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/repository"
)

// DB is the shared state behind every memory store.
type DB struct {
	mu sync.RWMutex

	channels map[uuid.UUID]*models.Channel
	members  map[uuid.UUID]map[uuid.UUID]string

	// messages are kept per channel in append order.
	messages map[uuid.UUID][]*models.Message
	nextMsg  int64

	users map[uuid.UUID]*models.User

	calls map[uuid.UUID]*models.CallSession

	presence map[uuid.UUID]*models.PresenceRecord
	typing   map[uuid.UUID]map[uuid.UUID]models.TypingFlag
}

func New() *DB {
	return &DB{
		channels: make(map[uuid.UUID]*models.Channel),
		members:  make(map[uuid.UUID]map[uuid.UUID]string),
		messages: make(map[uuid.UUID][]*models.Message),
		users:    make(map[uuid.UUID]*models.User),
		calls:    make(map[uuid.UUID]*models.CallSession),
		presence: make(map[uuid.UUID]*models.PresenceRecord),
		typing:   make(map[uuid.UUID]map[uuid.UUID]models.TypingFlag),
	}
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	c.ReadBy = slices.Clone(m.ReadBy)
	c.DeletedBy = slices.Clone(m.DeletedBy)
	c.Reactions = make(map[string][]uuid.UUID, len(m.Reactions))
	for k, v := range m.Reactions {
		c.Reactions[k] = slices.Clone(v)
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		c.ReplyToID = &id
	}
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if c.ReadBy == nil {
		c.ReadBy = []uuid.UUID{}
	}
	if c.DeletedBy == nil {
		c.DeletedBy = []uuid.UUID{}
	}
	return &c
}

func cloneCall(c *models.CallSession) *models.CallSession {
	out := *c
	out.Participants = maps.Clone(c.Participants)
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.EndedBy != nil {
		id := *c.EndedBy
		out.EndedBy = &id
	}
	if c.RejectedBy != nil {
		id := *c.RejectedBy
		out.RejectedBy = &id
	}
	return &out
}

func cloneChannel(ch *models.Channel) *models.Channel {
	out := *ch
	if ch.LastMessage != nil {
		s := *ch.LastMessage
		out.LastMessage = &s
	}
	return &out
}

var (
	_ repository.ChannelRepository    = (*ChannelStore)(nil)
	_ repository.MembershipRepository = (*MembershipStore)(nil)
	_ repository.MessageRepository    = (*MessageStore)(nil)
	_ repository.UserRepository       = (*UserStore)(nil)
	_ repository.CallRepository       = (*CallStore)(nil)
	_ repository.PresenceRepository   = (*PresenceStore)(nil)
	_ repository.TypingRepository     = (*TypingStore)(nil)
)
