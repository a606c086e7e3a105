package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
)

type MessageStore struct {
	db *DB
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.nextMsg++
	stored := cloneMessage(msg)
	stored.ID = s.db.nextMsg
	if stored.Reactions == nil {
		stored.Reactions = map[string][]uuid.UUID{}
	}
	s.db.messages[msg.ChannelID] = append(s.db.messages[msg.ChannelID], stored)
	return cloneMessage(stored), nil
}

// find must be called with the lock held.
func (s *MessageStore) find(channelID uuid.UUID, messageID int64) *models.Message {
	msgs := s.db.messages[channelID]
	i, ok := slices.BinarySearchFunc(msgs, messageID, func(m *models.Message, id int64) int {
		switch {
		case m.ID < id:
			return -1
		case m.ID > id:
			return 1
		}
		return 0
	})
	if !ok {
		return nil
	}
	return msgs[i]
}

func (s *MessageStore) GetByID(ctx context.Context, channelID uuid.UUID, messageID int64) (*models.Message, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	m := s.find(channelID, messageID)
	if m == nil {
		return nil, nil
	}
	return cloneMessage(m), nil
}

func (s *MessageStore) ListByChannel(ctx context.Context, channelID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	msgs := s.db.messages[channelID]
	out := make([]models.Message, 0, min(limit, len(msgs)))
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if before > 0 && msgs[i].ID >= before {
			continue
		}
		out = append(out, *cloneMessage(msgs[i]))
	}
	return out, nil
}

func (s *MessageStore) UpdateText(ctx context.Context, channelID uuid.UUID, messageID int64, text string, editedAt time.Time) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m := s.find(channelID, messageID)
	if m == nil || m.DeletedForEveryone {
		return nil, nil
	}
	m.Text = text
	m.IsEdited = true
	m.EditedAt = &editedAt
	return cloneMessage(m), nil
}

func (s *MessageStore) Tombstone(ctx context.Context, channelID uuid.UUID, messageID int64, text string) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m := s.find(channelID, messageID)
	if m == nil {
		return nil, nil
	}
	m.Text = text
	m.Type = models.MessageTypeSystemDeleted
	m.DeletedForEveryone = true
	m.Attachment = nil
	return cloneMessage(m), nil
}

func (s *MessageStore) HideFor(ctx context.Context, channelID uuid.UUID, messageID int64, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if m := s.find(channelID, messageID); m != nil && !slices.Contains(m.DeletedBy, userID) {
		m.DeletedBy = append(m.DeletedBy, userID)
	}
	return nil
}

func (s *MessageStore) AddReaction(ctx context.Context, channelID uuid.UUID, messageID int64, emoji string, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m := s.find(channelID, messageID)
	if m == nil || m.DeletedForEveryone {
		return nil
	}
	if !slices.Contains(m.Reactions[emoji], userID) {
		m.Reactions[emoji] = append(m.Reactions[emoji], userID)
	}
	return nil
}

func (s *MessageStore) RemoveReaction(ctx context.Context, channelID uuid.UUID, messageID int64, emoji string, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	m := s.find(channelID, messageID)
	if m == nil {
		return nil
	}
	users := slices.DeleteFunc(m.Reactions[emoji], func(id uuid.UUID) bool { return id == userID })
	if len(users) == 0 {
		delete(m.Reactions, emoji)
	} else {
		m.Reactions[emoji] = users
	}
	return nil
}

func (s *MessageStore) MarkRead(ctx context.Context, channelID uuid.UUID, messageIDs []int64, userID uuid.UUID) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	changed := 0
	for _, id := range messageIDs {
		m := s.find(channelID, id)
		if m == nil || !m.IsUnreadFor(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, userID)
		m.Status = models.MessageStatusRead
		changed++
	}
	return changed, nil
}

func (s *MessageStore) UnreadCount(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) (int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	n := 0
	for _, m := range s.db.messages[channelID] {
		if m.IsUnreadFor(userID) {
			n++
		}
	}
	return n, nil
}
