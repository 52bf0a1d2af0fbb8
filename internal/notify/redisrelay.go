package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay fans outcomes out to every replica over Redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	bus     *Bus
	out     chan Outcome
	logger  *zap.SugaredLogger
}

func NewRedisRelay(client *redis.Client, channel string, bus *Bus, logger *zap.SugaredLogger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		bus:     bus,
		out:     make(chan Outcome, outboundBuffer),
		logger:  logger,
	}
}

func (r *RedisRelay) Publish(_ context.Context, o Outcome) error {
	return enqueue(r.out, o)
}

// Run blocks until ctx is cancelled or the subscription breaks.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed before draining the outbound queue
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis relay subscribe %s: %w", r.channel, err)
	}
	r.logger.Infow("redis relay subscribed", "channel", r.channel)

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case o := <-r.out:
			payload, err := encodeOutcome(o)
			if err != nil {
				r.logger.Errorw("redis relay encode failed", "correlation_id", o.CorrelationID, "err", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				// at least reach the sessions connected to this replica
				r.logger.Errorw("redis relay publish failed, delivering locally", "correlation_id", o.CorrelationID, "err", err)
				r.bus.Deliver(o)
			}

		case msg, ok := <-in:
			if !ok {
				return errors.New("redis relay subscription closed")
			}
			o, err := decodeOutcome(msg.Payload)
			if err != nil {
				r.logger.Warnw("redis relay dropped message", "channel", msg.Channel, "err", err)
				continue
			}
			r.bus.Deliver(o)
		}
	}
}
