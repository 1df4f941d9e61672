package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// DefaultTypingTTL bounds how long a typing entry survives without updates.
const DefaultTypingTTL = 10 * time.Second

// RedisTypingRepository keeps one hash per room mapping user id to a JSON encoded TypingState.
type RedisTypingRepository struct {
	client *redis.Client
	keys   keyspace
	ttl    time.Duration
	now    func() time.Time
}

var _ repository.TypingRepository = (*RedisTypingRepository)(nil)

// NewRedisTypingRepository creates a RedisTypingRepository whose entries expire after ttl.
func NewRedisTypingRepository(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisTypingRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisTypingRepository")
	}
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &RedisTypingRepository{client: client, keys: newKeyspace(keyPrefix), ttl: ttl, now: time.Now}
}

// Set upserts the user's typing state and refreshes the room hash TTL.
func (r *RedisTypingRepository) Set(ctx context.Context, state domain.TypingState) error {
	key := r.keys.typing(state.RoomID)
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal typing state for user %s: %w", state.UserID, err)
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, state.UserID, payload)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to set typing state on %s: %w", key, err)
	}
	return nil
}

// List returns the room's entries, skipping ones older than the TTL.
func (r *RedisTypingRepository) List(ctx context.Context, roomID string) ([]domain.TypingState, error) {
	key := r.keys.typing(roomID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list typing states from %s: %w", key, err)
	}
	cutoff := r.now().Add(-r.ttl)
	states := make([]domain.TypingState, 0, len(fields))
	for userID, raw := range fields {
		var st domain.TypingState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			logrus.Warnf("redis: failed to unmarshal typing state of user %s in room %s: %v", userID, roomID, err)
			continue
		}
		if st.UpdatedAt.Before(cutoff) {
			continue
		}
		states = append(states, st)
	}
	return states, nil
}

// Remove drops a single user's entry.
func (r *RedisTypingRepository) Remove(ctx context.Context, roomID, userID string) error {
	key := r.keys.typing(roomID)
	if err := r.client.HDel(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("redis: failed to remove typing state of user %s from %s: %w", userID, key, err)
	}
	return nil
}

// Clear drops the room's hash.
func (r *RedisTypingRepository) Clear(ctx context.Context, roomID string) error {
	key := r.keys.typing(roomID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to clear typing states %s: %w", key, err)
	}
	return nil
}
