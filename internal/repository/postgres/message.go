package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/huddle/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = `id, channel_id, text, type, sender_id, sender_name, sender_role,
	status, read_by, reactions, edited_at, is_edited, deleted_by,
	deleted_for_everyone, reply_to_id, attachment, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.Text,
		&msg.Type,
		&msg.SenderID,
		&msg.SenderName,
		&msg.SenderRole,
		&msg.Status,
		&msg.ReadBy,
		&msg.Reactions,
		&msg.EditedAt,
		&msg.IsEdited,
		&msg.DeletedBy,
		&msg.DeletedForEveryone,
		&msg.ReplyToID,
		&msg.Attachment,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]uuid.UUID{}
	}
	return &msg, nil
}

// getOne runs a single-row query and maps "no rows" to nil, nil.
func (s *MessageStore) getOne(ctx context.Context, op, query string, args ...any) (*models.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(op, err)
	}
	return msg, nil
}

func (s *MessageStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	// The bigserial id is the commit order of the channel log.
	query := `
		INSERT INTO messages (channel_id, text, type, sender_id, sender_name, sender_role,
			status, read_by, reply_to_id, attachment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + messageColumns

	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []uuid.UUID{}
	}
	stored, err := scanMessage(s.pool.QueryRow(ctx, query,
		msg.ChannelID, msg.Text, string(msg.Type), msg.SenderID, msg.SenderName, msg.SenderRole,
		string(msg.Status), readBy, msg.ReplyToID, msg.Attachment, msg.CreatedAt,
	))
	if err != nil {
		return nil, wrap("insert message", err)
	}
	return stored, nil
}

func (s *MessageStore) GetByID(ctx context.Context, channelID uuid.UUID, messageID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND channel_id = $2`
	return s.getOne(ctx, "get message", query, messageID, channelID)
}

func (s *MessageStore) ListByChannel(ctx context.Context, channelID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	// before=0 is the first page (newest messages); before=42 continues with
	// messages older than id 42.
	var query string
	var args []any

	if before > 0 {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE channel_id = $1 AND id < $2
			ORDER BY id DESC
			LIMIT $3`
		args = []any{channelID, before, limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE channel_id = $1
			ORDER BY id DESC
			LIMIT $2`
		args = []any{channelID, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list messages", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrap("scan message", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate messages", err)
	}

	return messages, nil
}

func (s *MessageStore) UpdateText(ctx context.Context, channelID uuid.UUID, messageID int64, text string, editedAt time.Time) (*models.Message, error) {
	// The service checks the tombstone flag when it loads the message, but a
	// delete-for-everyone can commit between that read and this write. The
	// flag is repeated in WHERE so the row lock decides: an edit that loses
	// matches nothing and returns nil, and the service reports it as
	// INVALID_STATE instead of restoring deleted text.
	query := `
		UPDATE messages
		SET text = $3, is_edited = true, edited_at = $4
		WHERE id = $1 AND channel_id = $2 AND NOT deleted_for_everyone
		RETURNING ` + messageColumns
	return s.getOne(ctx, "update message text", query, messageID, channelID, text, editedAt)
}

func (s *MessageStore) Tombstone(ctx context.Context, channelID uuid.UUID, messageID int64, text string) (*models.Message, error) {
	query := `
		UPDATE messages
		SET text = $3, type = $4, deleted_for_everyone = true, attachment = NULL
		WHERE id = $1 AND channel_id = $2
		RETURNING ` + messageColumns
	return s.getOne(ctx, "tombstone message", query, messageID, channelID, text, string(models.MessageTypeSystemDeleted))
}

func (s *MessageStore) HideFor(ctx context.Context, channelID uuid.UUID, messageID int64, userID uuid.UUID) error {
	query := `
		UPDATE messages
		SET deleted_by = array_append(deleted_by, $3)
		WHERE id = $1 AND channel_id = $2 AND NOT ($3 = ANY(deleted_by))`

	if _, err := s.pool.Exec(ctx, query, messageID, channelID, userID); err != nil {
		return wrap("hide message", err)
	}
	return nil
}

func (s *MessageStore) AddReaction(ctx context.Context, channelID uuid.UUID, messageID int64, emoji string, userID uuid.UUID) error {
	// reactions is {"<emoji>": ["<user id>", ...]}. The containment guard
	// makes the add idempotent.
	query := `
		UPDATE messages
		SET reactions = jsonb_set(reactions, ARRAY[$3::text],
			COALESCE(reactions->$3::text, '[]'::jsonb) || to_jsonb($4::text))
		WHERE id = $1 AND channel_id = $2 AND NOT deleted_for_everyone
			AND NOT (COALESCE(reactions->$3::text, '[]'::jsonb) @> to_jsonb(ARRAY[$4::text]))`

	if _, err := s.pool.Exec(ctx, query, messageID, channelID, emoji, userID.String()); err != nil {
		return wrap("add reaction", err)
	}
	return nil
}

func (s *MessageStore) RemoveReaction(ctx context.Context, channelID uuid.UUID, messageID int64, emoji string, userID uuid.UUID) error {
	// Removing the last user drops the emoji key entirely.
	query := `
		UPDATE messages
		SET reactions = CASE
			WHEN jsonb_array_length((reactions->$3::text) - $4::text) = 0 THEN reactions - $3::text
			ELSE jsonb_set(reactions, ARRAY[$3::text], (reactions->$3::text) - $4::text)
		END
		WHERE id = $1 AND channel_id = $2 AND reactions ? $3::text`

	if _, err := s.pool.Exec(ctx, query, messageID, channelID, emoji, userID.String()); err != nil {
		return wrap("remove reaction", err)
	}
	return nil
}

func (s *MessageStore) MarkRead(ctx context.Context, channelID uuid.UUID, messageIDs []int64, userID uuid.UUID) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	// One statement for the whole batch; rows already read or sent by the
	// user are filtered out so the update stays idempotent.
	query := `
		UPDATE messages
		SET read_by = array_append(read_by, $3), status = 'read'
		WHERE channel_id = $1 AND id = ANY($2)
			AND sender_id <> $3 AND NOT ($3 = ANY(read_by))`

	tag, err := s.pool.Exec(ctx, query, channelID, messageIDs, userID)
	if err != nil {
		return 0, wrap("mark read", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *MessageStore) UnreadCount(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) (int, error) {
	query := `
		SELECT count(*)
		FROM messages
		WHERE channel_id = $1 AND sender_id <> $2 AND NOT ($2 = ANY(read_by))`

	var n int
	if err := s.pool.QueryRow(ctx, query, channelID, userID).Scan(&n); err != nil {
		return 0, wrap("count unread", err)
	}
	return n, nil
}
