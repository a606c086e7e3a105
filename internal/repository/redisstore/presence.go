// Package redisstore keeps the short-lived, high-churn state (presence and
// typing flags) in Redis. Postgres stays the store for anything durable.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/repository"
	"github.com/redis/go-redis/v9"
)

const onlineSetKey = "presence:online"

func presenceKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}

// clearStaleScript flips the online hint off for one user if their last
// heartbeat is older than the cutoff. It runs server-side so a heartbeat
// landing between the read and the write is never overwritten.
var clearStaleScript = redis.NewScript(`
local seen = redis.call('HGET', KEYS[1], 'last_seen')
if seen and tonumber(seen) < tonumber(ARGV[1]) then
	redis.call('HSET', KEYS[1], 'online', '0')
	redis.call('SREM', KEYS[2], ARGV[2])
	return 1
end
if not seen then
	redis.call('SREM', KEYS[2], ARGV[2])
end
return 0
`)

// PresenceStore stores one hash per user:
//
//	presence:<user id> -> {online, last_seen (unix µs), name, role, level}
//
// plus the set presence:online of users whose hint says online.
type PresenceStore struct {
	rdb *redis.Client
}

func NewPresenceStore(rdb *redis.Client) *PresenceStore {
	return &PresenceStore{rdb: rdb}
}

func (s *PresenceStore) Upsert(ctx context.Context, rec models.PresenceRecord) error {
	online := "0"
	if rec.IsOnline {
		online = "1"
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey(rec.UserID),
			"online", online,
			"last_seen", rec.LastSeen.UnixMicro(),
			"name", rec.Name,
			"role", rec.Role,
			"level", rec.Level,
		)
		if rec.IsOnline {
			pipe.SAdd(ctx, onlineSetKey, rec.UserID.String())
		} else {
			pipe.SRem(ctx, onlineSetKey, rec.UserID.String())
		}
		return nil
	})
	return wrap("upsert presence", err)
}

func (s *PresenceStore) Touch(ctx context.Context, userID uuid.UUID, at time.Time) error {
	err := s.rdb.HSet(ctx, presenceKey(userID), "last_seen", at.UnixMicro()).Err()
	return wrap("touch presence", err)
}

func (s *PresenceStore) Get(ctx context.Context, userID uuid.UUID) (*models.PresenceRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return nil, wrap("get presence", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec, err := decodePresence(userID, fields)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PresenceStore) GetMany(ctx context.Context, userIDs []uuid.UUID) ([]models.PresenceRecord, error) {
	if len(userIDs) == 0 {
		return []models.PresenceRecord{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = pipe.HGetAll(ctx, presenceKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, wrap("get presence batch", err)
	}

	out := make([]models.PresenceRecord, 0, len(userIDs))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodePresence(userIDs[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PresenceStore) ClearStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	members, err := s.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, wrap("list online presence", err)
	}

	var cleared []uuid.UUID
	for _, m := range members {
		userID, err := uuid.Parse(m)
		if err != nil {
			s.rdb.SRem(ctx, onlineSetKey, m)
			continue
		}
		n, err := clearStaleScript.Run(ctx, s.rdb,
			[]string{presenceKey(userID), onlineSetKey},
			cutoff.UnixMicro(), m,
		).Int()
		if err != nil {
			return cleared, wrap("clear stale presence", err)
		}
		if n == 1 {
			cleared = append(cleared, userID)
		}
	}
	return cleared, nil
}

func decodePresence(userID uuid.UUID, fields map[string]string) (models.PresenceRecord, error) {
	rec := models.PresenceRecord{
		UserID:   userID,
		IsOnline: fields["online"] == "1",
		Name:     fields["name"],
		Role:     fields["role"],
		Level:    fields["level"],
	}
	if v, ok := fields["last_seen"]; ok {
		us, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("decode presence %s: last_seen %q: %w", userID, v, err)
		}
		rec.LastSeen = time.UnixMicro(us).UTC()
	}
	return rec, nil
}

// wrap tags Redis errors as transient. redis.Nil never reaches here: the
// commands used above return empty results instead.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Transient(op, err)
}

var (
	_ repository.PresenceRepository = (*PresenceStore)(nil)
	_ repository.TypingRepository   = (*TypingStore)(nil)
)
