package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/repository"
)

type CallStore struct {
	db *DB
}

func NewCallStore(db *DB) *CallStore {
	return &CallStore{db: db}
}

func (s *CallStore) Create(ctx context.Context, call *models.CallSession) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.calls[call.ID] = cloneCall(call)
	return nil
}

func (s *CallStore) GetByID(ctx context.Context, callID uuid.UUID) (*models.CallSession, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	c, ok := s.db.calls[callID]
	if !ok {
		return nil, nil
	}
	return cloneCall(c), nil
}

func (s *CallStore) UpsertParticipant(ctx context.Context, callID uuid.UUID, userID uuid.UUID, p models.Participant, when []models.CallStatus) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.calls[callID]
	if !ok || !slices.Contains(when, c.Status) {
		return false, nil
	}
	c.Participants[userID] = p
	return true, nil
}

func (s *CallStore) Transition(ctx context.Context, callID uuid.UUID, from []models.CallStatus, update repository.CallUpdate) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.calls[callID]
	if !ok || !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = update.Status
	if update.EndedAt != nil {
		c.EndedAt = update.EndedAt
	}
	if update.EndedBy != nil {
		c.EndedBy = update.EndedBy
	}
	if update.RejectedBy != nil {
		c.RejectedBy = update.RejectedBy
	}
	return true, nil
}

func (s *CallStore) ListForUser(ctx context.Context, userID uuid.UUID, statuses []models.CallStatus) ([]models.CallSession, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	calls := make([]models.CallSession, 0)
	for _, c := range s.db.calls {
		if c.HasParticipant(userID) && slices.Contains(statuses, c.Status) {
			calls = append(calls, *cloneCall(c))
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		if !calls[i].CreatedAt.Equal(calls[j].CreatedAt) {
			return calls[i].CreatedAt.After(calls[j].CreatedAt)
		}
		return calls[i].ID.String() > calls[j].ID.String()
	})
	return calls, nil
}

type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, email, displayName, role, level, passwordHash string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	u := &models.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(email),
		DisplayName:  displayName,
		Role:         role,
		Level:        level,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.db.users[u.ID] = u
	out := *u
	return &out, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	u, ok := s.db.users[userID]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range s.db.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}
