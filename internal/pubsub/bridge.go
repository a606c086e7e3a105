package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultBridgeChannel is the Redis pub/sub channel kicks travel on.
const DefaultBridgeChannel = "huddle:kicks"

type kickMessage struct {
	Origin string  `json:"origin"`
	Topics []Topic `json:"topics"`
}

// RedisBridge relays kicks between server processes that share the same
// stores. It publishes local notifications and replays remote ones into the
// local broker. A process ignores its own messages.
type RedisBridge struct {
	rdb     *redis.Client
	broker  *Broker
	channel string
	origin  string
	logger  *zap.Logger
}

func NewRedisBridge(rdb *redis.Client, broker *Broker, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{
		rdb:     rdb,
		broker:  broker,
		channel: DefaultBridgeChannel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

func (r *RedisBridge) Publish(ctx context.Context, topics ...Topic) error {
	raw, err := json.Marshal(kickMessage{Origin: r.origin, Topics: topics})
	if err != nil {
		return fmt.Errorf("encode kick: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish kick: %w", err)
	}
	return nil
}

// Run consumes remote kicks until ctx is done. ready, if not nil, is closed
// once the Redis subscription is confirmed.
func (r *RedisBridge) Run(ctx context.Context, ready chan<- struct{}) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("pubsub bridge subscribed", zap.String("channel", r.channel))

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			var kick kickMessage
			if err := json.Unmarshal([]byte(m.Payload), &kick); err != nil {
				r.logger.Warn("dropping malformed kick", zap.Error(err))
				continue
			}
			if kick.Origin == r.origin {
				continue
			}
			r.broker.kickLocal(kick.Topics...)
		}
	}
}
