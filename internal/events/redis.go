package events

import (
	"context"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPublisher broadcasts envelopes through Redis pub/sub so every
// instance of the service can deliver them to its own subscribers.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// RedisRelay forwards every place and user message published on Redis to a
// local publisher, usually the realtime hub.
type RedisRelay struct {
	client *redis.Client
	sink   Publisher
	logger *zap.Logger
}

func NewRedisRelay(client *redis.Client, sink Publisher, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, sink: sink, logger: logger}
}

// Run blocks until ctx is cancelled. ready is closed once the subscription
// is confirmed; it may be nil.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.client.PSubscribe(ctx, PlacePattern, UserPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := r.sink.Publish(ctx, msg.Channel, []byte(msg.Payload)); err != nil {
				r.logger.Warn("relay event", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}
	}
}
