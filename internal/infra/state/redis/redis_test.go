package redisstate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
)

// setupRedis connects to REDIS_ADDR (default localhost:6379) and skips the
// test when no server answers. Each test gets its own key prefix.
func setupRedis(t *testing.T) (*redis.Client, string) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	prefix := "test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
		_ = client.Close()
	})
	return client, prefix
}

func TestPresenceRepository_LeasesDriveTransitions(t *testing.T) {
	client, prefix := setupRedis(t)
	repo := NewRedisPresenceRepository(client, prefix)
	ctx := context.Background()
	now := time.Now()

	was, err := repo.SetOnline(ctx, "u1", "s1", time.Minute, now)
	require.NoError(t, err)
	assert.False(t, was)

	was, err = repo.SetOnline(ctx, "u1", "s2", time.Minute, now)
	require.NoError(t, err)
	assert.True(t, was, "second session does not change state")

	st, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.Online())

	off, err := repo.ReleaseLease(ctx, "u1", "s1", now)
	require.NoError(t, err)
	assert.False(t, off, "s2 still holds a lease")

	off, err = repo.ReleaseLease(ctx, "u1", "s2", now)
	require.NoError(t, err)
	assert.True(t, off)

	st, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOffline, st.State)

	online, err := repo.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.NotContains(t, online, "u1")
}

func TestPresenceRepository_ExpiredLeaseAllowsSweep(t *testing.T) {
	client, prefix := setupRedis(t)
	repo := NewRedisPresenceRepository(client, prefix)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	_, err := repo.SetOnline(ctx, "u1", "s1", time.Second, past)
	require.NoError(t, err)

	has, err := repo.HasLease(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, has)

	changed, err := repo.SetOffline(ctx, "u1", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.SetOffline(ctx, "u1", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTypingRepository_SetListRemove(t *testing.T) {
	client, prefix := setupRedis(t)
	repo := NewRedisTypingRepository(client, prefix, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, domain.TypingState{RoomID: "r", UserID: "a", DisplayName: "Ada", IsTyping: true, UpdatedAt: time.Now()}))
	require.NoError(t, repo.Set(ctx, domain.TypingState{RoomID: "r", UserID: "b", DisplayName: "Bob", IsTyping: true, UpdatedAt: time.Now().Add(-time.Hour)}))

	states, err := repo.List(ctx, "r")
	require.NoError(t, err)
	require.Len(t, states, 1, "stale entry is skipped")
	assert.Equal(t, "a", states[0].UserID)

	require.NoError(t, repo.Remove(ctx, "r", "a"))
	states, err = repo.List(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestRelay_ForwardsIntoLocalBroker(t *testing.T) {
	client, prefix := setupRedis(t)
	broker := fanout.NewBroker(8)
	relay := NewRelay(client, prefix, broker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := broker.Subscribe(fanout.RoomMessagesTopic("r1"))
	defer sub.Close()

	go func() { _ = relay.Run(ctx) }()
	// Wait for the pattern subscription before publishing.
	require.Eventually(t, func() bool {
		n, _ := client.PubSubNumPat(ctx).Result()
		return n > 0
	}, 2*time.Second, 10*time.Millisecond)

	ev, err := fanout.NewEvent(fanout.RoomMessagesTopic("r1"), fanout.KindMessage, map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.NoError(t, relay.Publish(ctx, ev))

	select {
	case got := <-sub.C():
		assert.Equal(t, fanout.KindMessage, got.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("event not relayed")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	client, prefix := setupRedis(t)
	limiter := NewRedisRateLimiter(client, prefix)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
