package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/repository"
	"go.uber.org/zap"
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// ChannelService manages channels and who belongs to them.
type ChannelService struct {
	base
	access
}

func NewChannelService(channels repository.ChannelRepository, members repository.MembershipRepository, logger *zap.Logger) *ChannelService {
	return &ChannelService{
		base:   newBase(logger),
		access: access{channels: channels, members: members},
	}
}

// Create makes a channel owned by the actor and adds memberIDs to it.
func (s *ChannelService) Create(ctx context.Context, actor models.Actor, name string, memberIDs []uuid.UUID) (*models.Channel, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("channel name is required")
	}
	if len(name) > 100 {
		return nil, apperr.Validation("channel name too long")
	}

	ch, err := s.channels.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.members.AddMember(ctx, ch.ID, actor.UserID, RoleOwner); err != nil {
		return nil, err
	}
	for _, id := range memberIDs {
		if id == actor.UserID || id == uuid.Nil {
			continue
		}
		if err := s.members.AddMember(ctx, ch.ID, id, RoleMember); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// List returns the actor's channels, most recently active first.
func (s *ChannelService) List(ctx context.Context, actor models.Actor) ([]models.Channel, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.channels.ListForUser(ctx, actor.UserID)
}

func (s *ChannelService) Get(ctx context.Context, actor models.Actor, channelID uuid.UUID) (*models.Channel, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return nil, err
	}
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, apperr.NotFound("channel not found")
	}
	return ch, nil
}

// IsMember is the plain membership check used by stream subscriptions.
func (s *ChannelService) IsMember(ctx context.Context, actor models.Actor, channelID uuid.UUID) error {
	return s.requireMember(ctx, actor, channelID)
}

func (s *ChannelService) Members(ctx context.Context, actor models.Actor, channelID uuid.UUID) ([]models.ChannelMember, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return nil, err
	}
	return s.members.ListMembers(ctx, channelID)
}

// AddMember adds userID to the channel. Channel owners and staff
// (teacher/admin roles) may add anyone.
func (s *ChannelService) AddMember(ctx context.Context, actor models.Actor, channelID, userID uuid.UUID) error {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return err
	}
	if userID == uuid.Nil {
		return apperr.Validation("user id is required")
	}
	if !isStaff(actor) {
		owner, err := s.isOwner(ctx, channelID, actor.UserID)
		if err != nil {
			return err
		}
		if !owner {
			return apperr.Permission("only the channel owner can add members")
		}
	}
	if err := s.members.AddMember(ctx, channelID, userID, RoleMember); err != nil {
		return err
	}
	s.notifier.Notify(pubsub.PresenceTopic(channelID))
	return nil
}

// Join adds the actor to an existing channel.
func (s *ChannelService) Join(ctx context.Context, actor models.Actor, channelID uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return apperr.NotFound("channel not found")
	}
	if err := s.members.AddMember(ctx, channelID, actor.UserID, RoleMember); err != nil {
		return err
	}
	s.notifier.Notify(pubsub.PresenceTopic(channelID))
	return nil
}

// Leave removes the actor. Leaving a channel one is not in is a no-op.
func (s *ChannelService) Leave(ctx context.Context, actor models.Actor, channelID uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if err := s.members.RemoveMember(ctx, channelID, actor.UserID); err != nil {
		return err
	}
	// Every channel feed is republished so open streams re-check access.
	s.notifier.Notify(
		pubsub.ChannelTopic(channelID),
		pubsub.TypingTopic(channelID),
		pubsub.PresenceTopic(channelID),
	)
	return nil
}

func (s *ChannelService) isOwner(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	members, err := s.members.ListMembers(ctx, channelID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return m.Role == RoleOwner, nil
		}
	}
	return false, nil
}

func isStaff(actor models.Actor) bool {
	return actor.Role == "teacher" || actor.Role == "admin"
}
