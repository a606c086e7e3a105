package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/repository"
)

type CallStore struct {
	pool *pgxpool.Pool
}

func NewCallStore(pool *pgxpool.Pool) *CallStore {
	return &CallStore{pool: pool}
}

const callColumns = `id, channel_id, type, initiator_id, status, created_at, ended_at, ended_by, rejected_by`

func scanCall(row pgx.Row) (*models.CallSession, error) {
	var c models.CallSession
	err := row.Scan(
		&c.ID,
		&c.ChannelID,
		&c.Type,
		&c.InitiatorID,
		&c.Status,
		&c.CreatedAt,
		&c.EndedAt,
		&c.EndedBy,
		&c.RejectedBy,
	)
	if err != nil {
		return nil, err
	}
	c.Participants = make(map[uuid.UUID]models.Participant)
	return &c, nil
}

// Create writes the session row and every participant in one transaction so
// a reader never sees a call without its initiator.
func (s *CallStore) Create(ctx context.Context, call *models.CallSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap("begin create call", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO call_sessions (id, channel_id, type, initiator_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		call.ID, call.ChannelID, string(call.Type), call.InitiatorID, string(call.Status), call.CreatedAt,
	)
	if err != nil {
		return wrap("insert call", err)
	}

	batch := &pgx.Batch{}
	for userID, p := range call.Participants {
		batch.Queue(`
			INSERT INTO call_participants (call_id, user_id, joined, joined_at)
			VALUES ($1, $2, $3, $4)`,
			call.ID, userID, p.Joined, p.JoinedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrap("insert call participants", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrap("commit create call", err)
	}
	return nil
}

func (s *CallStore) GetByID(ctx context.Context, callID uuid.UUID) (*models.CallSession, error) {
	call, err := scanCall(s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_sessions WHERE id = $1`, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get call", err)
	}

	byID := map[uuid.UUID]*models.CallSession{call.ID: call}
	if err := s.loadParticipants(ctx, byID); err != nil {
		return nil, err
	}
	return call, nil
}

// loadParticipants fills Participants for every call in byID with one query.
func (s *CallStore) loadParticipants(ctx context.Context, byID map[uuid.UUID]*models.CallSession) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT call_id, user_id, joined, joined_at
		FROM call_participants
		WHERE call_id = ANY($1)`, ids)
	if err != nil {
		return wrap("list call participants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			callID, userID uuid.UUID
			joined         bool
			joinedAt       *time.Time
		)
		if err := rows.Scan(&callID, &userID, &joined, &joinedAt); err != nil {
			return wrap("scan call participant", err)
		}
		if c, ok := byID[callID]; ok {
			c.Participants[userID] = models.Participant{Joined: joined, JoinedAt: joinedAt}
		}
	}
	return wrap("iterate call participants", rows.Err())
}

func (s *CallStore) UpsertParticipant(ctx context.Context, callID uuid.UUID, userID uuid.UUID, p models.Participant, when []models.CallStatus) (bool, error) {
	// FOR SHARE holds the session row until the insert commits, so a
	// concurrent Transition either waits for the join or has already moved
	// the status and the guard finds no row.
	query := `
		INSERT INTO call_participants (call_id, user_id, joined, joined_at)
		SELECT $1, $2, $3, $4
		WHERE EXISTS (
			SELECT 1 FROM call_sessions
			WHERE id = $1 AND status = ANY($5)
			FOR SHARE
		)
		ON CONFLICT (call_id, user_id)
		DO UPDATE SET joined = EXCLUDED.joined, joined_at = EXCLUDED.joined_at`

	tag, err := s.pool.Exec(ctx, query, callID, userID, p.Joined, p.JoinedAt, statusStrings(when))
	if err != nil {
		return false, wrap("upsert call participant", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *CallStore) Transition(ctx context.Context, callID uuid.UUID, from []models.CallStatus, update repository.CallUpdate) (bool, error) {
	// The status guard in WHERE makes the transition a compare-and-set:
	// two racing end/reject calls cannot both win.
	query := `
		UPDATE call_sessions
		SET status = $2,
			ended_at = COALESCE($3, ended_at),
			ended_by = COALESCE($4, ended_by),
			rejected_by = COALESCE($5, rejected_by)
		WHERE id = $1 AND status = ANY($6)`

	tag, err := s.pool.Exec(ctx, query,
		callID, string(update.Status), update.EndedAt, update.EndedBy, update.RejectedBy, statusStrings(from),
	)
	if err != nil {
		return false, wrap("transition call", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *CallStore) ListForUser(ctx context.Context, userID uuid.UUID, statuses []models.CallStatus) ([]models.CallSession, error) {
	query := `
		SELECT ` + callColumns + `
		FROM call_sessions c
		JOIN call_participants p ON p.call_id = c.id
		WHERE p.user_id = $1 AND c.status = ANY($2)
		ORDER BY c.created_at DESC, c.id DESC`

	rows, err := s.pool.Query(ctx, query, userID, statusStrings(statuses))
	if err != nil {
		return nil, wrap("list calls for user", err)
	}
	defer rows.Close()

	calls := make([]*models.CallSession, 0)
	byID := make(map[uuid.UUID]*models.CallSession)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, wrap("scan call", err)
		}
		calls = append(calls, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate calls", err)
	}
	rows.Close()

	if err := s.loadParticipants(ctx, byID); err != nil {
		return nil, err
	}

	out := make([]models.CallSession, len(calls))
	for i, c := range calls {
		out[i] = *c
	}
	return out, nil
}

func statusStrings(statuses []models.CallStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
