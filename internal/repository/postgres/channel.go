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

type ChannelStore struct {
	pool *pgxpool.Pool
}

func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

const channelColumns = `c.id, c.name, c.created_at,
	c.last_message_id, c.last_message_text, c.last_message_type,
	c.last_message_sender, c.last_message_name, c.last_message_at`

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var (
		ch         models.Channel
		lastID     *int64
		lastText   *string
		lastType   *string
		lastSender *uuid.UUID
		lastName   *string
		lastAt     *time.Time
	)
	if err := row.Scan(&ch.ID, &ch.Name, &ch.CreatedAt,
		&lastID, &lastText, &lastType, &lastSender, &lastName, &lastAt); err != nil {
		return nil, err
	}
	if lastID != nil {
		ch.LastMessage = &models.MessageSummary{MessageID: *lastID}
		if lastText != nil {
			ch.LastMessage.Text = *lastText
		}
		if lastType != nil {
			ch.LastMessage.Type = models.MessageType(*lastType)
		}
		if lastSender != nil {
			ch.LastMessage.SenderID = *lastSender
		}
		if lastName != nil {
			ch.LastMessage.SenderName = *lastName
		}
		if lastAt != nil {
			ch.LastMessage.CreatedAt = *lastAt
		}
	}
	return &ch, nil
}

func (s *ChannelStore) Create(ctx context.Context, name string) (*models.Channel, error) {
	query := `
		INSERT INTO channels AS c (id, name, created_at)
		VALUES (uuid_generate_v4(), $1, now())
		RETURNING ` + channelColumns

	ch, err := scanChannel(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		return nil, wrap("insert channel", err)
	}
	return ch, nil
}

func (s *ChannelStore) GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels c WHERE c.id = $1`

	ch, err := scanChannel(s.pool.QueryRow(ctx, query, channelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get channel", err)
	}
	return ch, nil
}

func (s *ChannelStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels c
		JOIN channel_members m ON m.channel_id = c.id
		WHERE m.user_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, wrap("list channels", err)
	}
	defer rows.Close()

	channels := make([]models.Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, wrap("scan channel", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate channels", err)
	}
	return channels, nil
}

func (s *ChannelStore) UpdateLastMessage(ctx context.Context, channelID uuid.UUID, summary models.MessageSummary) error {
	// Summaries are written after the message insert commits, outside any
	// transaction, and two senders can finish in either order. Message ids
	// are the channel's commit order, so comparing them decides which
	// summary is newer. Equal ids still write: an edit or tombstone of the
	// latest message refreshes its own preview.
	query := `
		UPDATE channels
		SET last_message_id = $2, last_message_text = $3, last_message_type = $4,
			last_message_sender = $5, last_message_name = $6, last_message_at = $7
		WHERE id = $1 AND (last_message_id IS NULL OR last_message_id <= $2)`

	_, err := s.pool.Exec(ctx, query, channelID, summary.MessageID, summary.Text,
		string(summary.Type), summary.SenderID, summary.SenderName, summary.CreatedAt)
	if err != nil {
		return wrap("update channel summary", err)
	}
	return nil
}
