package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// relayEnvelope is what travels over the redis channel.
type relayEnvelope struct {
	UserIDs []int64         `json:"userIds"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay is a Fanout that reaches connections held by every instance
// subscribed to the same redis channel, this one included.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	local   *Dispatcher
	log     *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, local *Dispatcher, log *slog.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel, local: local, log: log}
}

// Deliver publishes the event. When redis is unreachable the event still
// reaches the connections of this instance and the publish error is returned.
func (r *RedisRelay) Deliver(ctx context.Context, event any, userIDs ...int64) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	envelope, err := json.Marshal(relayEnvelope{UserIDs: userIDs, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := r.rdb.Publish(ctx, r.channel, envelope).Err(); err != nil {
		r.log.Warn("Relay publish failed, delivering locally", "channel", r.channel, "err", err)
		r.local.DeliverPayload(payload, userIDs...)
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Start subscribes and returns once the subscription is confirmed. Incoming
// envelopes are dispatched locally until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	go r.listen(ctx, pubsub)
	r.log.Info("Relay subscribed", "channel", r.channel)
	return nil
}

func (r *RedisRelay) listen(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("Dropping undecodable relay message", "err", err)
				continue
			}
			r.local.DeliverPayload(env.Payload, env.UserIDs...)
		}
	}
}
