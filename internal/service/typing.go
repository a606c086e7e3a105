package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/repository"
	"go.uber.org/zap"
)

// TypingService keeps per-channel typing flags. Flags expire on read: a
// reader ignores any flag older than ttl, so an indicator heals itself even
// when StopTyping never arrives.
type TypingService struct {
	base
	access
	flags repository.TypingRepository
	ttl   time.Duration
}

func NewTypingService(
	flags repository.TypingRepository,
	channels repository.ChannelRepository,
	members repository.MembershipRepository,
	ttl time.Duration,
	logger *zap.Logger,
) *TypingService {
	return &TypingService{
		base:   newBase(logger),
		access: access{channels: channels, members: members},
		flags:  flags,
		ttl:    ttl,
	}
}

// StartTyping sets or refreshes the actor's flag.
func (s *TypingService) StartTyping(ctx context.Context, actor models.Actor, channelID uuid.UUID) error {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return err
	}
	err := s.flags.Set(ctx, models.TypingFlag{
		ChannelID: channelID,
		UserID:    actor.UserID,
		UserName:  actor.Name,
		UpdatedAt: s.clock(),
	})
	if err != nil {
		return err
	}
	s.notifier.Notify(pubsub.TypingTopic(channelID))
	return nil
}

// StopTyping removes the actor's flag. It needs no membership: a user who
// just left a channel must still be able to clear their indicator.
func (s *TypingService) StopTyping(ctx context.Context, actor models.Actor, channelID uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	return s.clear(ctx, channelID, actor.UserID)
}

func (s *TypingService) clear(ctx context.Context, channelID, userID uuid.UUID) error {
	if err := s.flags.Delete(ctx, channelID, userID); err != nil {
		return err
	}
	s.notifier.Notify(pubsub.TypingTopic(channelID))
	return nil
}

// ClearAll removes userID's flag from every listed channel. Disconnect
// cleanup uses it; the first error is returned after trying all channels.
func (s *TypingService) ClearAll(ctx context.Context, userID uuid.UUID, channelIDs []uuid.UUID) error {
	var first error
	for _, id := range channelIDs {
		if err := s.clear(ctx, id, userID); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ActiveFlags returns unexpired flags for the channel, oldest first.
func (s *TypingService) ActiveFlags(ctx context.Context, channelID uuid.UUID, now time.Time) ([]models.TypingFlag, error) {
	flags, err := s.flags.List(ctx, channelID)
	if err != nil {
		return nil, err
	}
	active := make([]models.TypingFlag, 0, len(flags))
	for _, f := range flags {
		if now.Sub(f.UpdatedAt) < s.ttl {
			active = append(active, f)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].UpdatedAt.Equal(active[j].UpdatedAt) {
			return active[i].UpdatedAt.Before(active[j].UpdatedAt)
		}
		return active[i].UserID.String() < active[j].UserID.String()
	})
	return active, nil
}

// ActiveTypers lists who is typing in the channel at now, excluding requesterID.
func (s *TypingService) ActiveTypers(ctx context.Context, channelID, requesterID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	flags, err := s.ActiveFlags(ctx, channelID, now)
	if err != nil {
		return nil, err
	}
	return TyperIDs(flags, requesterID), nil
}

// ActiveTypersFor is ActiveTypers at the current time behind a membership check.
func (s *TypingService) ActiveTypersFor(ctx context.Context, actor models.Actor, channelID uuid.UUID) ([]uuid.UUID, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return nil, err
	}
	return s.ActiveTypers(ctx, channelID, actor.UserID, s.clock())
}

// Now exposes the service clock to stream loaders.
func (s *TypingService) Now() time.Time {
	return s.clock()
}

// TyperIDs returns the user ids of flags, skipping exclude.
func TyperIDs(flags []models.TypingFlag, exclude uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(flags))
	for _, f := range flags {
		if f.UserID != exclude {
			ids = append(ids, f.UserID)
		}
	}
	return ids
}
