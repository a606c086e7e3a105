package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/huddle/internal/models"
)

type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

func (s *MembershipStore) AddMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID, role string) error {
	// Why ON CONFLICT DO NOTHING?
	//   - Join is retried by clients after a dropped connection, and channel
	//     create adds the owner and the invitees in one pass that may repeat
	//     ids. Both must succeed the second time.
	//   - The existing role wins: re-adding the owner as a member must not
	//     demote them, so the conflict is ignored rather than updated.
	query := `
		INSERT INTO channel_members (channel_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, user_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, channelID, userID, role); err != nil {
		return wrap("add member", err)
	}
	return nil
}

func (s *MembershipStore) RemoveMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) error {
	query := `
		DELETE FROM channel_members
		WHERE channel_id = $1 AND user_id = $2`

	if _, err := s.pool.Exec(ctx, query, channelID, userID); err != nil {
		return wrap("remove member", err)
	}
	return nil
}

func (s *MembershipStore) ListMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error) {
	query := `
		SELECT channel_id, user_id, role
		FROM channel_members
		WHERE channel_id = $1`

	rows, err := s.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, wrap("list members", err)
	}
	defer rows.Close()

	members := make([]models.ChannelMember, 0)
	for rows.Next() {
		var m models.ChannelMember
		if err := rows.Scan(&m.ChannelID, &m.UserID, &m.Role); err != nil {
			return nil, wrap("scan member", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate members", err)
	}

	return members, nil
}

func (s *MembershipStore) IsMember(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) (bool, error) {
	// Why EXISTS and not COUNT(*)?
	//   - This runs before every command and before every stream push, so it
	//     is the hottest query in the service.
	//   - EXISTS can stop at the primary key hit. COUNT has to finish the scan
	//     and we only need a yes or no.
	query := `
		SELECT EXISTS (
			SELECT 1 FROM channel_members
			WHERE channel_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, channelID, userID).Scan(&exists); err != nil {
		return false, wrap("check membership", err)
	}
	return exists, nil
}
