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

// IsLive reports whether rec heartbeated within window of now. LastSeen is
// the only input: the stored IsOnline flag does not keep a user alive.
func IsLive(rec models.PresenceRecord, now time.Time, window time.Duration) bool {
	return now.Sub(rec.LastSeen) < window
}

// PresenceService tracks who is online.
//
//	Offline --SetOnline(true)--> Online-claimed --no heartbeat for window--> Stale
//	Stale --Heartbeat or SetOnline(true)--> Online-claimed
//	Stale --janitor--> Offline (LastSeen kept, so Heartbeat still revives)
//
// Stale is never stored; readers derive it from LastSeen.
type PresenceService struct {
	base
	access
	presence repository.PresenceRepository
	liveness time.Duration
}

func NewPresenceService(
	presence repository.PresenceRepository,
	channels repository.ChannelRepository,
	members repository.MembershipRepository,
	liveness time.Duration,
	logger *zap.Logger,
) *PresenceService {
	return &PresenceService{
		base:     newBase(logger),
		access:   access{channels: channels, members: members},
		presence: presence,
		liveness: liveness,
	}
}

// IsLive applies the service's liveness window.
func (s *PresenceService) IsLive(rec models.PresenceRecord, now time.Time) bool {
	return IsLive(rec, now, s.liveness)
}

// Online is what readers show: the user claims to be online and is live.
func (s *PresenceService) Online(rec models.PresenceRecord, now time.Time) bool {
	return rec.IsOnline && s.IsLive(rec, now)
}

// SetOnline records a foreground/background transition.
func (s *PresenceService) SetOnline(ctx context.Context, actor models.Actor, online bool) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	err := s.presence.Upsert(ctx, models.PresenceRecord{
		UserID:   actor.UserID,
		IsOnline: online,
		LastSeen: s.clock(),
		Name:     actor.Name,
		Role:     actor.Role,
		Level:    actor.Level,
	})
	if err != nil {
		return err
	}
	s.notifyUser(ctx, actor.UserID)
	return nil
}

// Heartbeat refreshes LastSeen. A heartbeat that finds the record stale
// also claims online again: a client only heartbeats while foregrounded, and
// the janitor may already have cleared the hint. Subscribers are told only
// on that revival.
func (s *PresenceService) Heartbeat(ctx context.Context, actor models.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	now := s.clock()
	prev, err := s.presence.Get(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if prev == nil || s.IsLive(*prev, now) {
		return s.presence.Touch(ctx, actor.UserID, now)
	}

	err = s.presence.Upsert(ctx, models.PresenceRecord{
		UserID:   actor.UserID,
		IsOnline: true,
		LastSeen: now,
		Name:     actor.Name,
		Role:     actor.Role,
		Level:    actor.Level,
	})
	if err != nil {
		return err
	}
	s.notifyUser(ctx, actor.UserID)
	return nil
}

// Lookup returns a user's record and whether readers should show them online.
func (s *PresenceService) Lookup(ctx context.Context, userID uuid.UUID) (*models.PresenceRecord, bool, error) {
	rec, err := s.presence.Get(ctx, userID)
	if err != nil || rec == nil {
		return rec, false, err
	}
	return rec, s.Online(*rec, s.clock()), nil
}

// OnlineUsersFor is OnlineUsers behind a membership check.
func (s *PresenceService) OnlineUsersFor(ctx context.Context, actor models.Actor, channelID uuid.UUID) ([]models.PresenceRecord, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return nil, err
	}
	return s.OnlineUsers(ctx, channelID)
}

// OnlineUsers returns the members of channelID that are online right now,
// sorted by name.
func (s *PresenceService) OnlineUsers(ctx context.Context, channelID uuid.UUID) ([]models.PresenceRecord, error) {
	members, err := s.members.ListMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	recs, err := s.presence.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	online := make([]models.PresenceRecord, 0, len(recs))
	for _, r := range recs {
		if s.Online(r, now) {
			online = append(online, r)
		}
	}
	sort.Slice(online, func(i, j int) bool {
		if online[i].Name != online[j].Name {
			return online[i].Name < online[j].Name
		}
		return online[i].UserID.String() < online[j].UserID.String()
	})
	return online, nil
}

// ClearStale turns the IsOnline hint off for records that stopped
// heartbeating. Readers already treat them as offline; this only keeps the
// stored hint honest.
func (s *PresenceService) ClearStale(ctx context.Context) ([]uuid.UUID, error) {
	return s.presence.ClearStale(ctx, s.clock().Add(-s.liveness))
}

// notifyUser kicks the presence stream of every channel userID belongs to.
func (s *PresenceService) notifyUser(ctx context.Context, userID uuid.UUID) {
	channels, err := s.channels.ListForUser(ctx, userID)
	if err != nil {
		s.logger.Warn("presence fan-out skipped", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	topics := make([]pubsub.Topic, len(channels))
	for i, ch := range channels {
		topics[i] = pubsub.PresenceTopic(ch.ID)
	}
	s.notifier.Notify(topics...)
}
