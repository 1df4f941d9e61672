package redisstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// setOnlineScript records a lease and flips the user online.
// KEYS: state, leases, online set. ARGV: sid, expiry ms, now ms, uid, lease key ttl ms.
// Returns 1 when the user was already online.
var setOnlineScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[5])
redis.call('SADD', KEYS[3], ARGV[4])
if redis.call('HGET', KEYS[1], 'state') == 'online' then
  return 1
end
redis.call('HSET', KEYS[1], 'state', 'online', 'last_changed', ARGV[3])
return 0
`)

// releaseScript drops a lease (ARGV[1] may be empty) and flips the user
// offline when no live lease remains.
// KEYS: state, leases, online set. ARGV: sid, now ms, uid.
// Returns 1 on the online to offline transition.
var releaseScript = redis.NewScript(`
if ARGV[1] ~= '' then
  redis.call('ZREM', KEYS[2], ARGV[1])
end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
if redis.call('ZCARD', KEYS[2]) > 0 then
  return 0
end
redis.call('SREM', KEYS[3], ARGV[3])
if redis.call('HGET', KEYS[1], 'state') ~= 'online' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'offline', 'last_changed', ARGV[2])
return 1
`)

// RedisPresenceRepository stores presence in a hash per user plus a sorted set
// of session leases scored by expiry.
type RedisPresenceRepository struct {
	client *redis.Client
	keys   keyspace
	now    func() time.Time
}

var _ repository.PresenceRepository = (*RedisPresenceRepository)(nil)

// NewRedisPresenceRepository creates a RedisPresenceRepository.
func NewRedisPresenceRepository(client *redis.Client, keyPrefix string) *RedisPresenceRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisPresenceRepository")
	}
	return &RedisPresenceRepository{client: client, keys: newKeyspace(keyPrefix), now: time.Now}
}

// Get returns the stored presence state of a user.
func (r *RedisPresenceRepository) Get(ctx context.Context, userID string) (domain.PresenceState, error) {
	state := domain.PresenceState{UserID: userID, State: domain.PresenceOffline}
	key := r.keys.presenceState(userID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return state, fmt.Errorf("redis: failed to get presence for user %s from %s: %w", userID, key, err)
	}
	if fields["state"] == string(domain.PresenceOnline) {
		state.State = domain.PresenceOnline
	}
	if ms, err := strconv.ParseInt(fields["last_changed"], 10, 64); err == nil {
		state.LastChanged = time.UnixMilli(ms).UTC()
	}
	return state, nil
}

// SetOnline records the session lease and marks the user online.
func (r *RedisPresenceRepository) SetOnline(ctx context.Context, userID, sessionID string, ttl time.Duration, at time.Time) (bool, error) {
	keys := []string{r.keys.presenceState(userID), r.keys.presenceLeases(userID), r.keys.presenceOnline()}
	res, err := setOnlineScript.Run(ctx, r.client, keys,
		sessionID, at.Add(ttl).UnixMilli(), at.UnixMilli(), userID, (2 * ttl).Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: failed to set user %s online (session %s): %w", userID, sessionID, err)
	}
	return res == 1, nil
}

// RefreshLease pushes the session lease expiry forward. Unknown sessions are ignored.
func (r *RedisPresenceRepository) RefreshLease(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	key := r.keys.presenceLeases(userID)
	expiry := r.now().Add(ttl)
	pipe := r.client.TxPipeline()
	pipe.ZAddXX(ctx, key, &redis.Z{Score: float64(expiry.UnixMilli()), Member: sessionID})
	pipe.PExpire(ctx, key, 2*ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to refresh lease %s for user %s: %w", sessionID, userID, err)
	}
	return nil
}

// ReleaseLease drops the session lease and marks the user offline if it was the last one.
func (r *RedisPresenceRepository) ReleaseLease(ctx context.Context, userID, sessionID string, at time.Time) (bool, error) {
	return r.release(ctx, userID, sessionID, at)
}

// SetOffline marks the user offline unless a live lease still exists.
func (r *RedisPresenceRepository) SetOffline(ctx context.Context, userID string, at time.Time) (bool, error) {
	return r.release(ctx, userID, "", at)
}

func (r *RedisPresenceRepository) release(ctx context.Context, userID, sessionID string, at time.Time) (bool, error) {
	keys := []string{r.keys.presenceState(userID), r.keys.presenceLeases(userID), r.keys.presenceOnline()}
	res, err := releaseScript.Run(ctx, r.client, keys, sessionID, at.UnixMilli(), userID).Int()
	if err != nil {
		return false, fmt.Errorf("redis: failed to release presence of user %s (session %q): %w", userID, sessionID, err)
	}
	return res == 1, nil
}

// OnlineUsers lists users currently recorded as online.
func (r *RedisPresenceRepository) OnlineUsers(ctx context.Context) ([]string, error) {
	key := r.keys.presenceOnline()
	ids, err := r.client.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: failed to list online users from %s: %w", key, err)
	}
	return ids, nil
}

// HasLease reports whether the user holds any unexpired session lease.
func (r *RedisPresenceRepository) HasLease(ctx context.Context, userID string) (bool, error) {
	key := r.keys.presenceLeases(userID)
	min := strconv.FormatInt(r.now().UnixMilli(), 10)
	n, err := r.client.ZCount(ctx, key, "("+min, "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to count leases for user %s: %w", userID, err)
	}
	return n > 0, nil
}
