package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/redis/go-redis/v9"
)

func typingKey(channelID uuid.UUID) string {
	return "typing:" + channelID.String()
}

// TypingStore keeps one hash per channel, field = user id, value = JSON flag.
//
// Readers filter by age; keyTTL only stops abandoned channels from leaving
// keys behind forever.
type TypingStore struct {
	rdb    *redis.Client
	keyTTL time.Duration
}

func NewTypingStore(rdb *redis.Client, keyTTL time.Duration) *TypingStore {
	return &TypingStore{rdb: rdb, keyTTL: keyTTL}
}

func (s *TypingStore) Set(ctx context.Context, flag models.TypingFlag) error {
	raw, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode typing flag: %w", err)
	}
	key := typingKey(flag.ChannelID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, flag.UserID.String(), raw)
		if s.keyTTL > 0 {
			pipe.Expire(ctx, key, s.keyTTL)
		}
		return nil
	})
	return wrap("set typing", err)
}

func (s *TypingStore) Delete(ctx context.Context, channelID uuid.UUID, userID uuid.UUID) error {
	return wrap("delete typing", s.rdb.HDel(ctx, typingKey(channelID), userID.String()).Err())
}

func (s *TypingStore) List(ctx context.Context, channelID uuid.UUID) ([]models.TypingFlag, error) {
	vals, err := s.rdb.HVals(ctx, typingKey(channelID)).Result()
	if err != nil {
		return nil, wrap("list typing", err)
	}

	flags := make([]models.TypingFlag, 0, len(vals))
	for _, v := range vals {
		var f models.TypingFlag
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			// A corrupt entry only hides one indicator.
			continue
		}
		flags = append(flags, f)
	}
	return flags, nil
}
