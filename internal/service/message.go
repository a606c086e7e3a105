package service

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/repository"
	"go.uber.org/zap"
)

const (
	maxTextLength  = 4000
	maxEmojiLength = 16
	maxPageSize    = 100
)

// MessageConfig holds the message policy knobs.
type MessageConfig struct {
	EditWindow        time.Duration
	DeleteWindow      time.Duration
	MaxAttachmentSize int64
	HistoryPageSize   int
	SnapshotSize      int
}

// MessageService enforces ownership and time windows on channel messages.
type MessageService struct {
	base
	access
	messages repository.MessageRepository
	typing   *TypingService
	cfg      MessageConfig
}

func NewMessageService(
	messages repository.MessageRepository,
	channels repository.ChannelRepository,
	members repository.MembershipRepository,
	cfg MessageConfig,
	logger *zap.Logger,
) *MessageService {
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if cfg.SnapshotSize <= 0 {
		cfg.SnapshotSize = 200
	}
	return &MessageService{
		base:     newBase(logger),
		access:   access{channels: channels, members: members},
		messages: messages,
		cfg:      cfg,
	}
}

// SetTyping lets a successful send clear the sender's typing flag.
func (s *MessageService) SetTyping(t *TypingService) {
	s.typing = t
}

type SendInput struct {
	Text       string             `json:"text"`
	Type       models.MessageType `json:"type"`
	ReplyToID  *int64             `json:"reply_to_id,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

func (s *MessageService) validateSend(in *SendInput) error {
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if !in.Type.Valid() {
		return apperr.Validation("unsupported message type")
	}
	if utf8.RuneCountInString(in.Text) > maxTextLength {
		return apperr.Validation("text too long")
	}
	if in.Type == models.MessageTypeText {
		if strings.TrimSpace(in.Text) == "" {
			return apperr.Validation("text is required")
		}
		return nil
	}

	a := in.Attachment
	if a == nil || strings.TrimSpace(a.URL) == "" {
		return apperr.Validation("attachment url is required for " + string(in.Type) + " messages")
	}
	if a.Size < 0 {
		return apperr.Validation("attachment size must not be negative")
	}
	if s.cfg.MaxAttachmentSize > 0 && a.Size > s.cfg.MaxAttachmentSize {
		return apperr.Validation("attachment too large")
	}
	return nil
}

// Send appends a message to the channel log.
func (s *MessageService) Send(ctx context.Context, actor models.Actor, channelID uuid.UUID, in SendInput) (*models.Message, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return nil, err
	}
	if err := s.validateSend(&in); err != nil {
		return nil, err
	}
	if in.Type == models.MessageTypeText {
		in.Attachment = nil
	}

	if in.ReplyToID != nil {
		parent, err := s.messages.GetByID(ctx, channelID, *in.ReplyToID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, apperr.NotFound("reply target not found in this channel")
		}
	}

	return s.appendMessage(ctx, &models.Message{
		ChannelID:  channelID,
		Text:       in.Text,
		Type:       in.Type,
		SenderID:   actor.UserID,
		SenderName: actor.Name,
		SenderRole: actor.Role,
		ReplyToID:  in.ReplyToID,
		Attachment: in.Attachment,
	})
}

// PostCallNotice writes the descriptive "call started" entry into the call's
// channel on behalf of the initiator.
func (s *MessageService) PostCallNotice(ctx context.Context, actor models.Actor, call *models.CallSession) error {
	text := actor.Name + " started a " + string(call.Type) + " call"
	_, err := s.appendMessage(ctx, &models.Message{
		ChannelID:  call.ChannelID,
		Text:       strings.TrimSpace(text),
		Type:       models.MessageTypeCall,
		SenderID:   actor.UserID,
		SenderName: actor.Name,
		SenderRole: actor.Role,
	})
	return err
}

func (s *MessageService) appendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	msg.CreatedAt = s.clock()
	msg.Status = models.MessageStatusSent
	msg.ReadBy = []uuid.UUID{msg.SenderID}

	stored, err := s.messages.Append(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(pubsub.ChannelTopic(stored.ChannelID))
	s.refreshSummary(stored)

	if s.typing != nil {
		channelID, userID := stored.ChannelID, stored.SenderID
		s.background("clear_typing", func(ctx context.Context) error {
			return s.typing.clear(ctx, channelID, userID)
		})
	}
	return stored, nil
}

// refreshSummary rewrites the channel's last-message preview in the
// background. The preview is derived from the log, so a failed write is
// logged and counted rather than returned. Writes may land out of order;
// UpdateLastMessage keeps whichever summary has the higher message id.
func (s *MessageService) refreshSummary(msg *models.Message) {
	summary := msg.Summary()
	channelID := msg.ChannelID
	s.background("last_message", func(ctx context.Context) error {
		return s.channels.UpdateLastMessage(ctx, channelID, summary)
	})
}

// load fetches a message the actor may act on.
func (s *MessageService) load(ctx context.Context, actor models.Actor, channelID uuid.UUID, messageID int64) (*models.Message, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return nil, err
	}
	msg, err := s.messages.GetByID(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, apperr.NotFound("message not found")
	}
	return msg, nil
}

// Edit replaces the text of the actor's own message within the edit window.
func (s *MessageService) Edit(ctx context.Context, actor models.Actor, channelID uuid.UUID, messageID int64, text string) (*models.Message, error) {
	msg, err := s.load(ctx, actor, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actor.UserID {
		return nil, apperr.Permission("only the sender can edit a message")
	}
	if msg.DeletedForEveryone {
		return nil, apperr.InvalidState("message was deleted")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("text is required")
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		return nil, apperr.Validation("text too long")
	}

	now := s.clock()
	if now.Sub(msg.CreatedAt) > s.cfg.EditWindow {
		return nil, apperr.TimeWindow("edit window has passed")
	}

	updated, err := s.messages.UpdateText(ctx, channelID, messageID, text, now)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// Tombstoned between the read and the write.
		return nil, apperr.InvalidState("message was deleted")
	}

	s.notifier.Notify(pubsub.ChannelTopic(channelID))
	s.refreshSummary(updated)
	return updated, nil
}

// Delete tombstones a message for everyone, or hides it for the actor only.
func (s *MessageService) Delete(ctx context.Context, actor models.Actor, channelID uuid.UUID, messageID int64, forEveryone bool) (*models.Message, error) {
	msg, err := s.load(ctx, actor, channelID, messageID)
	if err != nil {
		return nil, err
	}

	if !forEveryone {
		if err := s.messages.HideFor(ctx, channelID, messageID, actor.UserID); err != nil {
			return nil, err
		}
		s.notifier.Notify(pubsub.ChannelTopic(channelID))
		if !slices.Contains(msg.DeletedBy, actor.UserID) {
			msg.DeletedBy = append(msg.DeletedBy, actor.UserID)
		}
		return msg, nil
	}

	if msg.SenderID != actor.UserID {
		return nil, apperr.Permission("only the sender can delete a message for everyone")
	}
	if msg.DeletedForEveryone {
		return msg, nil
	}
	if s.clock().Sub(msg.CreatedAt) > s.cfg.DeleteWindow {
		return nil, apperr.TimeWindow("delete-for-everyone window has passed")
	}

	tomb, err := s.messages.Tombstone(ctx, channelID, messageID, models.TombstoneText)
	if err != nil {
		return nil, err
	}
	if tomb == nil {
		return nil, apperr.NotFound("message not found")
	}

	s.notifier.Notify(pubsub.ChannelTopic(channelID))
	s.refreshSummary(tomb)
	return tomb, nil
}

func validEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return apperr.Validation("emoji is required")
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLength {
		return apperr.Validation("emoji too long")
	}
	return nil
}

// AddReaction adds the actor to the emoji's reaction set. Repeating it is a no-op.
func (s *MessageService) AddReaction(ctx context.Context, actor models.Actor, channelID uuid.UUID, messageID int64, emoji string) (*models.Message, error) {
	return s.react(ctx, actor, channelID, messageID, emoji, s.messages.AddReaction)
}

// RemoveReaction removes the actor from the emoji's reaction set.
func (s *MessageService) RemoveReaction(ctx context.Context, actor models.Actor, channelID uuid.UUID, messageID int64, emoji string) (*models.Message, error) {
	return s.react(ctx, actor, channelID, messageID, emoji, s.messages.RemoveReaction)
}

type reactionOp func(ctx context.Context, channelID uuid.UUID, messageID int64, emoji string, userID uuid.UUID) error

func (s *MessageService) react(ctx context.Context, actor models.Actor, channelID uuid.UUID, messageID int64, emoji string, op reactionOp) (*models.Message, error) {
	if err := validEmoji(emoji); err != nil {
		return nil, err
	}
	msg, err := s.load(ctx, actor, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.DeletedForEveryone {
		return nil, apperr.InvalidState("message was deleted")
	}
	if err := op(ctx, channelID, messageID, emoji, actor.UserID); err != nil {
		return nil, err
	}
	s.notifier.Notify(pubsub.ChannelTopic(channelID))

	updated, err := s.messages.GetByID(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperr.NotFound("message not found")
	}
	return updated, nil
}

// MarkRead adds the actor to the read set of every listed message they did
// not send. It returns how many messages changed.
func (s *MessageService) MarkRead(ctx context.Context, actor models.Actor, channelID uuid.UUID, messageIDs []int64) (int, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return 0, err
	}
	ids := slices.Clone(messageIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := s.messages.MarkRead(ctx, channelID, ids, actor.UserID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.notifier.Notify(pubsub.ChannelTopic(channelID))
	}
	return n, nil
}

// MarkReadAsync is MarkRead for stream consumers: it returns at once and
// only logs failures.
func (s *MessageService) MarkReadAsync(actor models.Actor, channelID uuid.UUID, messageIDs []int64) {
	if len(messageIDs) == 0 {
		return
	}
	ids := slices.Clone(messageIDs)
	s.background("mark_read", func(ctx context.Context) error {
		_, err := s.MarkRead(ctx, actor, channelID, ids)
		return err
	})
}

// UnreadCount counts messages in the channel the actor neither sent nor read.
func (s *MessageService) UnreadCount(ctx context.Context, actor models.Actor, channelID uuid.UUID) (int, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return 0, err
	}
	return s.messages.UnreadCount(ctx, channelID, actor.UserID)
}

// MessagePage is one page of history, newest first.
type MessagePage struct {
	Messages   []models.Message `json:"messages"`
	HasMore    bool             `json:"has_more"`
	NextBefore int64            `json:"next_before,omitempty"`
}

// List pages through history. before=0 starts at the newest message.
// Messages the actor deleted for themselves are left out.
func (s *MessageService) List(ctx context.Context, actor models.Actor, channelID uuid.UUID, before int64, limit int) (*MessagePage, error) {
	if err := s.requireMember(ctx, actor, channelID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.HistoryPageSize
	}
	limit = min(limit, maxPageSize)

	msgs, err := s.messages.ListByChannel(ctx, channelID, before, limit+1)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{}
	if len(msgs) > limit {
		page.HasMore = true
		msgs = msgs[:limit]
	}
	if len(msgs) > 0 {
		page.NextBefore = msgs[len(msgs)-1].ID
	}
	page.Messages = VisibleTo(msgs, actor.UserID)
	return page, nil
}

// Snapshot returns the newest messages of a channel in commit order. It is
// the loader behind channel streams and does no access check.
func (s *MessageService) Snapshot(ctx context.Context, channelID uuid.UUID) ([]models.Message, error) {
	msgs, err := s.messages.ListByChannel(ctx, channelID, 0, s.cfg.SnapshotSize)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// VisibleTo drops messages userID deleted for themselves. msgs is not modified.
func VisibleTo(msgs []models.Message, userID uuid.UUID) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for i := range msgs {
		if !msgs[i].IsHiddenFor(userID) {
			out = append(out, msgs[i])
		}
	}
	return out
}

// Unread returns the ids in msgs that userID has not read yet.
func Unread(msgs []models.Message, userID uuid.UUID) []int64 {
	var ids []int64
	for i := range msgs {
		if msgs[i].IsUnreadFor(userID) {
			ids = append(ids, msgs[i].ID)
		}
	}
	return ids
}
