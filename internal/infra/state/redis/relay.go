package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/fanout"
)

// Relay bridges fan-out events across nodes. Publish sends events to Redis;
// Run re-publishes everything received from Redis into the local broker, so
// local subscribers see events from every node, including their own.
type Relay struct {
	client *redis.Client
	keys   keyspace
	local  *fanout.Broker

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ fanout.Publisher = (*Relay)(nil)

// NewRelay creates a Relay that feeds local.
func NewRelay(client *redis.Client, keyPrefix string, local *fanout.Broker) *Relay {
	if client == nil {
		panic("redis client cannot be nil for Relay")
	}
	if local == nil {
		panic("local broker cannot be nil for Relay")
	}
	return &Relay{client: client, keys: newKeyspace(keyPrefix), local: local}
}

// Publish sends ev to every node, this one included.
func (r *Relay) Publish(ctx context.Context, ev fanout.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal %s event: %w", ev.Kind, err)
	}
	channel := r.keys.channel(ev.Topic)
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      channel,
			"payload_size": len(payload),
			"kind":         ev.Kind,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Run subscribes to every event channel and forwards messages into the local
// broker until ctx is cancelled or Close is called. It returns once the
// subscription has failed or ended.
func (r *Relay) Run(ctx context.Context) error {
	log := logrus.WithField("component", "relay")

	pubsub := r.client.PSubscribe(ctx, r.keys.channelPattern())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: failed to subscribe to %s: %w", r.keys.channelPattern(), err)
	}
	r.mu.Lock()
	r.pubsub = pubsub
	r.mu.Unlock()
	log.Info("Relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = r.Close()
			return nil
		case msg, ok := <-ch:
			if !ok {
				log.Info("Relay channel closed")
				return nil
			}
			var ev fanout.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.WithError(err).WithField("channel", msg.Channel).Warn("Dropping undecodable event")
				continue
			}
			if ev.Topic == "" {
				ev.Topic = r.keys.topicOf(msg.Channel)
			}
			if err := r.local.Publish(ctx, ev); err != nil {
				if errors.Is(err, fanout.ErrClosed) {
					return nil
				}
				log.WithError(err).Warn("Local publish failed")
			}
		}
	}
}

// Close ends the Redis subscription.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	r.pubsub = nil
	return err
}
