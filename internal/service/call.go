package service

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/repository"
	"go.uber.org/zap"
)

var liveStatuses = []models.CallStatus{models.CallStatusCalling, models.CallStatusActive}

// CallAnnouncer writes the "call started" entry into a channel.
// *MessageService implements it.
type CallAnnouncer interface {
	PostCallNotice(ctx context.Context, actor models.Actor, call *models.CallSession) error
}

// CallService runs the call signaling state machine:
//
//	calling -> active    first non-initiator join
//	calling -> rejected  an invitee declines
//	calling|active -> ended
//
// ended and rejected are final.
type CallService struct {
	base
	access
	calls     repository.CallRepository
	announcer CallAnnouncer
}

func NewCallService(
	calls repository.CallRepository,
	channels repository.ChannelRepository,
	members repository.MembershipRepository,
	logger *zap.Logger,
) *CallService {
	return &CallService{
		base:   newBase(logger),
		access: access{channels: channels, members: members},
		calls:  calls,
	}
}

// SetAnnouncer enables the channel entry on call start (optional dependency).
func (s *CallService) SetAnnouncer(a CallAnnouncer) {
	s.announcer = a
}

// Create starts a call in channelID. The initiator joins immediately. With
// no invitees every other channel member is invited.
func (s *CallService) Create(ctx context.Context, actor models.Actor, channelID uuid.UUID, callType models.CallType, invitees []uuid.UUID) (*models.CallSession, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !callType.Valid() {
		return nil, apperr.Validation("call type must be voice or video")
	}
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return nil, err
	}

	targets, err := s.resolveInvitees(ctx, actor, channelID, invitees)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	call := &models.CallSession{
		ID:          uuid.New(),
		ChannelID:   channelID,
		Type:        callType,
		InitiatorID: actor.UserID,
		Participants: map[uuid.UUID]models.Participant{
			actor.UserID: {Joined: true, JoinedAt: &now},
		},
		Status:    models.CallStatusCalling,
		CreatedAt: now,
	}
	for _, id := range targets {
		call.Participants[id] = models.Participant{}
	}

	if err := s.calls.Create(ctx, call); err != nil {
		return nil, err
	}
	s.notifyParticipants(call)

	if s.announcer != nil {
		announced := *call
		s.background("call_notice", func(ctx context.Context) error {
			return s.announcer.PostCallNotice(ctx, actor, &announced)
		})
	}
	return call, nil
}

func (s *CallService) resolveInvitees(ctx context.Context, actor models.Actor, channelID uuid.UUID, invitees []uuid.UUID) ([]uuid.UUID, error) {
	members, err := s.members.ListMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}
	inChannel := make(map[uuid.UUID]bool, len(members))
	for _, m := range members {
		inChannel[m.UserID] = true
	}

	if len(invitees) == 0 {
		out := make([]uuid.UUID, 0, len(members))
		for _, m := range members {
			if m.UserID != actor.UserID {
				out = append(out, m.UserID)
			}
		}
		return out, nil
	}

	out := make([]uuid.UUID, 0, len(invitees))
	for _, id := range invitees {
		if id == actor.UserID || slices.Contains(out, id) {
			continue
		}
		if !inChannel[id] {
			return nil, apperr.Validation("invitee " + id.String() + " is not a member of this channel")
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *CallService) load(ctx context.Context, callID uuid.UUID) (*models.CallSession, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, apperr.NotFound("call not found")
	}
	return call, nil
}

// reload is used after a guarded write lost a race.
func (s *CallService) reload(ctx context.Context, callID uuid.UUID) (*models.CallSession, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return nil, apperr.InvalidState("call already " + string(call.Status))
	}
	return call, nil
}

// Get returns a call to one of its participants or a member of its channel.
func (s *CallService) Get(ctx context.Context, actor models.Actor, callID uuid.UUID) (*models.CallSession, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.HasParticipant(actor.UserID) {
		if err := s.requireMember(ctx, actor, call.ChannelID); err != nil {
			return nil, err
		}
	}
	return call, nil
}

// Join adds the actor to a live call. The first join by someone other than
// the initiator makes the call active.
func (s *CallService) Join(ctx context.Context, actor models.Actor, callID uuid.UUID) (*models.CallSession, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return nil, apperr.InvalidState("call already " + string(call.Status))
	}
	if err := s.requireMember(ctx, actor, call.ChannelID); err != nil {
		return nil, err
	}
	if p, ok := call.Participants[actor.UserID]; ok && p.Joined {
		return call, nil
	}

	now := s.clock()
	ok, err := s.calls.UpsertParticipant(ctx, callID, actor.UserID, models.Participant{Joined: true, JoinedAt: &now}, liveStatuses)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("call ended before the join")
	}
	if call.Status == models.CallStatusCalling && actor.UserID != call.InitiatorID {
		// Losing this race to another joiner is fine. If end/reject won it
		// instead, the reload returns the terminal call.
		if _, err := s.calls.Transition(ctx, callID, []models.CallStatus{models.CallStatusCalling}, repository.CallUpdate{
			Status: models.CallStatusActive,
		}); err != nil {
			return nil, err
		}
	}

	updated, err := s.reload(ctx, callID)
	if err != nil {
		return nil, err
	}
	s.notifyParticipants(updated)
	return updated, nil
}

// Reject declines a ringing call. Only an invitee may reject, and only
// before anyone has picked up.
func (s *CallService) Reject(ctx context.Context, actor models.Actor, callID uuid.UUID) (*models.CallSession, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status != models.CallStatusCalling {
		return nil, apperr.InvalidState("only a ringing call can be rejected")
	}
	if !call.HasParticipant(actor.UserID) || actor.UserID == call.InitiatorID {
		return nil, apperr.Permission("only an invited user can reject a call")
	}

	rejectedBy := actor.UserID
	ok, err := s.calls.Transition(ctx, callID, []models.CallStatus{models.CallStatusCalling}, repository.CallUpdate{
		Status:     models.CallStatusRejected,
		RejectedBy: &rejectedBy,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("only a ringing call can be rejected")
	}
	return s.finish(ctx, callID)
}

// End hangs up the call for everyone. Any participant may end it.
func (s *CallService) End(ctx context.Context, actor models.Actor, callID uuid.UUID) (*models.CallSession, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return nil, apperr.InvalidState("call already " + string(call.Status))
	}
	if !call.HasParticipant(actor.UserID) {
		return nil, apperr.Permission("only a participant can end a call")
	}

	now := s.clock()
	endedBy := actor.UserID
	ok, err := s.calls.Transition(ctx, callID, liveStatuses, repository.CallUpdate{
		Status:  models.CallStatusEnded,
		EndedAt: &now,
		EndedBy: &endedBy,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("call already finished")
	}
	return s.finish(ctx, callID)
}

// finish reads back a call that just reached a terminal state and fans it out.
func (s *CallService) finish(ctx context.Context, callID uuid.UUID) (*models.CallSession, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	s.notifyParticipants(call)
	return call, nil
}

// ListIncoming returns the live calls userID takes part in, newest first.
func (s *CallService) ListIncoming(ctx context.Context, userID uuid.UUID) ([]models.CallSession, error) {
	if userID == uuid.Nil {
		return nil, apperr.Authentication("no authenticated user")
	}
	return s.calls.ListForUser(ctx, userID, liveStatuses)
}

func (s *CallService) notifyParticipants(call *models.CallSession) {
	topics := make([]pubsub.Topic, 0, len(call.Participants))
	for id := range call.Participants {
		topics = append(topics, pubsub.CallsTopic(id))
	}
	s.notifier.Notify(topics...)
}
