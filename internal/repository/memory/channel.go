package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
)

type ChannelStore struct {
	db *DB
}

func NewChannelStore(db *DB) *ChannelStore {
	return &ChannelStore{db: db}
}

func (s *ChannelStore) Create(ctx context.Context, name string) (*models.Channel, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	ch := &models.Channel{ID: uuid.New(), Name: name, CreatedAt: time.Now().UTC()}
	s.db.channels[ch.ID] = ch
	return cloneChannel(ch), nil
}

func (s *ChannelStore) GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	ch, ok := s.db.channels[channelID]
	if !ok {
		return nil, nil
	}
	return cloneChannel(ch), nil
}

func (s *ChannelStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Channel, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	channels := make([]models.Channel, 0)
	for id, members := range s.db.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		if ch, ok := s.db.channels[id]; ok {
			channels = append(channels, *cloneChannel(ch))
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		return activity(channels[i]).After(activity(channels[j]))
	})
	return channels, nil
}

func activity(ch models.Channel) time.Time {
	if ch.LastMessage != nil {
		return ch.LastMessage.CreatedAt
	}
	return ch.CreatedAt
}

func (s *ChannelStore) UpdateLastMessage(ctx context.Context, channelID uuid.UUID, summary models.MessageSummary) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	ch, ok := s.db.channels[channelID]
	if !ok {
		return nil
	}
	if ch.LastMessage != nil && ch.LastMessage.MessageID > summary.MessageID {
		return nil
	}
	ch.LastMessage = &summary
	return nil
}

type MembershipStore struct {
	db *DB
}

func NewMembershipStore(db *DB) *MembershipStore {
	return &MembershipStore{db: db}
}

func (s *MembershipStore) AddMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID, role string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	members, ok := s.db.members[channelID]
	if !ok {
		members = make(map[uuid.UUID]string)
		s.db.members[channelID] = members
	}
	if _, exists := members[userID]; !exists {
		members[userID] = role
	}
	return nil
}

func (s *MembershipStore) RemoveMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	delete(s.db.members[channelID], userID)
	return nil
}

func (s *MembershipStore) ListMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	members := make([]models.ChannelMember, 0, len(s.db.members[channelID]))
	for userID, role := range s.db.members[channelID] {
		members = append(members, models.ChannelMember{ChannelID: channelID, UserID: userID, Role: role})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].UserID.String() < members[j].UserID.String()
	})
	return members, nil
}

func (s *MembershipStore) IsMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	_, ok := s.db.members[channelID][userID]
	return ok, nil
}
