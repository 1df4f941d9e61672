package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
	"github.com/nuhaa333/chat-app/internal/service"
)

const testGrace = 30 * time.Second

type presenceFixture struct {
	clock  clockwork.FakeClock
	repo   *memPresenceRepo
	broker *fanout.Broker
	svc    *service.PresenceService
	st     *testStack
}

func newPresenceFixture(t *testing.T) *presenceFixture {
	t.Helper()
	st := newTestStack(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	repo := newMemPresenceRepo(clock.Now)
	svc := service.NewPresenceService(repo, st.users, st.broker, st.broker, clock, testGrace)
	return &presenceFixture{clock: clock, repo: repo, broker: st.broker, svc: svc, st: st}
}

func (f *presenceFixture) state(t *testing.T, userID string) domain.PresenceStatus {
	t.Helper()
	s, err := f.svc.Get(context.Background(), userID)
	require.NoError(t, err)
	return s.State
}

func TestPresence_ConnectAndCloseFlipState(t *testing.T) {
	f := newPresenceFixture(t)
	uid := f.st.seedUser(t, "alice")
	ctx := context.Background()

	sess, err := f.svc.Connect(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, f.state(t, uid))

	require.NoError(t, sess.Close(ctx))
	assert.Equal(t, domain.PresenceOffline, f.state(t, uid))

	user, err := f.st.users.FindByID(ctx, uid)
	require.NoError(t, err)
	require.NotNil(t, user.LastSeenAt, "going offline stores last seen")
}

func TestPresence_OnlineWhileAnySessionLives(t *testing.T) {
	f := newPresenceFixture(t)
	uid := f.st.seedUser(t, "alice")
	ctx := context.Background()

	first, err := f.svc.Connect(ctx, uid)
	require.NoError(t, err)
	second, err := f.svc.Connect(ctx, uid)
	require.NoError(t, err)

	require.NoError(t, first.Close(ctx))
	assert.Equal(t, domain.PresenceOnline, f.state(t, uid), "second tab keeps the user online")

	require.NoError(t, second.Close(ctx))
	assert.Equal(t, domain.PresenceOffline, f.state(t, uid))
}

func TestPresence_DroppedSessionGoesOfflineAfterGrace(t *testing.T) {
	// Arrange
	f := newPresenceFixture(t)
	uid := f.st.seedUser(t, "alice")
	sess, err := f.svc.Connect(context.Background(), uid)
	require.NoError(t, err)

	// Act: the connection dies without a close handshake.
	sess.Drop()
	f.clock.Advance(testGrace / 2)
	assert.Equal(t, domain.PresenceOnline, f.state(t, uid), "still within the grace period")
	f.clock.Advance(testGrace)

	// Assert
	assert.Eventually(t, func() bool {
		return f.state(t, uid) == domain.PresenceOffline
	}, time.Second, 10*time.Millisecond)
}

func TestPresence_TouchKeepsSessionOnline(t *testing.T) {
	f := newPresenceFixture(t)
	uid := f.st.seedUser(t, "alice")
	ctx := context.Background()
	sess, err := f.svc.Connect(ctx, uid)
	require.NoError(t, err)
	defer sess.Close(ctx)

	for i := 0; i < 5; i++ {
		f.clock.Advance(testGrace - time.Second)
		require.NoError(t, sess.Touch(ctx))
	}
	assert.Equal(t, domain.PresenceOnline, f.state(t, uid))
	assert.Equal(t, 1, f.svc.ActiveSessions())
}

func TestPresence_SweepFlipsUsersWithoutLeases(t *testing.T) {
	f := newPresenceFixture(t)
	uid := f.st.seedUser(t, "alice")
	ctx := context.Background()

	// A session from a node that crashed: online with a lease nobody refreshes.
	_, err := f.repo.SetOnline(ctx, uid, "lost-session", testGrace, f.clock.Now())
	require.NoError(t, err)

	n, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "lease still live")

	f.clock.Advance(testGrace + time.Second)
	n, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.PresenceOffline, f.state(t, uid))
}

func TestPresence_SubscribeSendsCurrentThenTransitions(t *testing.T) {
	f := newPresenceFixture(t)
	uid := f.st.seedUser(t, "alice")
	ctx := context.Background()

	stream, err := f.svc.Subscribe(ctx, uid)
	require.NoError(t, err)
	defer stream.Close()

	next := func() domain.PresenceState {
		select {
		case s := <-stream.C():
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("no presence update")
			return domain.PresenceState{}
		}
	}

	assert.Equal(t, domain.PresenceOffline, next().State)
	sess, err := f.svc.Connect(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, next().State)
	require.NoError(t, sess.Close(ctx))
	assert.Equal(t, domain.PresenceOffline, next().State)
}

func TestPresence_ExpiredSessionComesBackOnTouch(t *testing.T) {
	// Arrange: the connection stays open but goes quiet past the grace period.
	f := newPresenceFixture(t)
	uid := f.st.seedUser(t, "alice")
	ctx := context.Background()
	sess, err := f.svc.Connect(ctx, uid)
	require.NoError(t, err)

	f.clock.Advance(testGrace + time.Second)
	require.Eventually(t, func() bool {
		return f.state(t, uid) == domain.PresenceOffline
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, f.svc.ActiveSessions())

	// Act
	require.NoError(t, sess.Touch(ctx))

	// Assert
	assert.Equal(t, domain.PresenceOnline, f.state(t, uid))
	assert.Equal(t, 1, f.svc.ActiveSessions())

	require.NoError(t, sess.Close(ctx))
	assert.Equal(t, domain.PresenceOffline, f.state(t, uid))
}
