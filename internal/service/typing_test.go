package service_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/service"
)

func TestTyping_CoalescesBurstsIntoOneWrite(t *testing.T) {
	// Arrange
	st := newTestStack(t)
	a, b := st.seedUser(t, "alice"), st.seedUser(t, "bob")
	ctx := context.Background()
	room, err := st.rooms.GetOrCreatePrivateRoom(ctx, a, b)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	svc := service.NewTypingService(st.typing, st.rooms, st.broker, st.broker, clock, 300*time.Millisecond)
	defer svc.Close()

	// Act
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.SetTyping(ctx, room.ID, a, "Alice", i%2 == 0))
		clock.Advance(50 * time.Millisecond)
	}
	assert.Zero(t, st.typing.writes(), "nothing written inside the window")
	clock.Advance(300 * time.Millisecond)

	// Assert
	assert.Eventually(t, func() bool { return st.typing.writes() == 1 }, time.Second, 5*time.Millisecond)
	states, _ := st.typing.List(ctx, room.ID)
	require.Len(t, states, 1)
	assert.True(t, states[0].IsTyping, "the last submitted value wins")
}

func TestTyping_SubscribeExcludesViewer(t *testing.T) {
	st := newTestStack(t)
	a, b, c := st.seedUser(t, "alice"), st.seedUser(t, "bob"), st.seedUser(t, "carol")
	ctx := context.Background()
	group, err := st.rooms.CreateGroup(ctx, a, "team", []string{b, c}, "")
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	require.NoError(t, st.typing.Set(ctx, domain.TypingState{RoomID: group.ID, UserID: b, DisplayName: "Bob", IsTyping: true, UpdatedAt: clock.Now()}))
	require.NoError(t, st.typing.Set(ctx, domain.TypingState{RoomID: group.ID, UserID: a, DisplayName: "Alice", IsTyping: true, UpdatedAt: clock.Now()}))

	svc := service.NewTypingService(st.typing, st.rooms, st.broker, st.broker, clock, 300*time.Millisecond)
	defer svc.Close()

	stream, err := svc.SubscribeTyping(ctx, group.ID, a)
	require.NoError(t, err)
	defer stream.Close()

	next := func() []domain.Typist {
		select {
		case v := <-stream.C():
			return v
		case <-time.After(2 * time.Second):
			t.Fatal("no typing update")
			return nil
		}
	}

	assert.Equal(t, []domain.Typist{{UserID: b, DisplayName: "Bob"}}, next(), "snapshot first, viewer excluded")

	require.NoError(t, svc.SetTyping(ctx, group.ID, c, "Carol", true))
	clock.Advance(time.Second)
	want := []domain.Typist{{UserID: b, DisplayName: "Bob"}, {UserID: c, DisplayName: "Carol"}}
	sort.Slice(want, func(i, j int) bool { return want[i].UserID < want[j].UserID })
	assert.Equal(t, want, next(), "typists are ordered by user id")

	require.NoError(t, svc.ClearUser(ctx, group.ID, b))
	assert.Equal(t, []domain.Typist{{UserID: c, DisplayName: "Carol"}}, next())
}

func TestTyping_SubscriptionDropsStaleTypists(t *testing.T) {
	// Arrange
	st := newTestStack(t)
	a, b := st.seedUser(t, "alice"), st.seedUser(t, "bob")
	ctx := context.Background()
	room, err := st.rooms.GetOrCreatePrivateRoom(ctx, a, b)
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	require.NoError(t, st.typing.Set(ctx, domain.TypingState{RoomID: room.ID, UserID: b, DisplayName: "Bob", IsTyping: true, UpdatedAt: clock.Now()}))

	svc := service.NewTypingService(st.typing, st.rooms, st.broker, st.broker, clock, 0, service.WithTypingTTL(4*time.Second))
	defer svc.Close()
	stream, err := svc.SubscribeTyping(ctx, room.ID, a)
	require.NoError(t, err)
	defer stream.Close()

	select {
	case v := <-stream.C():
		require.Equal(t, []domain.Typist{{UserID: b, DisplayName: "Bob"}}, v)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}

	// Act: bob never clears the flag.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1)
	clock.Advance(3 * time.Second)

	// Assert
	select {
	case v := <-stream.C():
		assert.Empty(t, v, "stale typist is dropped after the TTL")
	case <-time.After(2 * time.Second):
		t.Fatal("stale typist never dropped")
	}
}

func TestTyping_RejectsNonParticipant(t *testing.T) {
	st := newTestStack(t)
	a, b, c := st.seedUser(t, "alice"), st.seedUser(t, "bob"), st.seedUser(t, "carol")
	room, _ := st.rooms.GetOrCreatePrivateRoom(context.Background(), a, b)
	svc := service.NewTypingService(st.typing, st.rooms, st.broker, st.broker, clockwork.NewFakeClock(), 0)
	defer svc.Close()

	err := svc.SetTyping(context.Background(), room.ID, c, "Carol", true)
	assert.ErrorIs(t, err, service.ErrPermissionDenied)
}
