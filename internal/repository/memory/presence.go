package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
)

type PresenceStore struct {
	db *DB
}

func NewPresenceStore(db *DB) *PresenceStore {
	return &PresenceStore{db: db}
}

func (s *PresenceStore) Upsert(ctx context.Context, rec models.PresenceRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.presence[rec.UserID] = &rec
	return nil
}

func (s *PresenceStore) Touch(ctx context.Context, userID uuid.UUID, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	rec, ok := s.db.presence[userID]
	if !ok {
		rec = &models.PresenceRecord{UserID: userID}
		s.db.presence[userID] = rec
	}
	rec.LastSeen = at
	return nil
}

func (s *PresenceStore) Get(ctx context.Context, userID uuid.UUID) (*models.PresenceRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	rec, ok := s.db.presence[userID]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (s *PresenceStore) GetMany(ctx context.Context, userIDs []uuid.UUID) ([]models.PresenceRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]models.PresenceRecord, 0, len(userIDs))
	for _, id := range userIDs {
		if rec, ok := s.db.presence[id]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *PresenceStore) ClearStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var cleared []uuid.UUID
	for id, rec := range s.db.presence {
		if rec.IsOnline && rec.LastSeen.Before(cutoff) {
			rec.IsOnline = false
			cleared = append(cleared, id)
		}
	}
	return cleared, nil
}

type TypingStore struct {
	db *DB
}

func NewTypingStore(db *DB) *TypingStore {
	return &TypingStore{db: db}
}

func (s *TypingStore) Set(ctx context.Context, flag models.TypingFlag) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	flags, ok := s.db.typing[flag.ChannelID]
	if !ok {
		flags = make(map[uuid.UUID]models.TypingFlag)
		s.db.typing[flag.ChannelID] = flags
	}
	flags[flag.UserID] = flag
	return nil
}

func (s *TypingStore) Delete(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	delete(s.db.typing[channelID], userID)
	return nil
}

func (s *TypingStore) List(ctx context.Context, channelID uuid.UUID) ([]models.TypingFlag, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	out := make([]models.TypingFlag, 0, len(s.db.typing[channelID]))
	for _, f := range s.db.typing[channelID] {
		out = append(out, f)
	}
	return out, nil
}
