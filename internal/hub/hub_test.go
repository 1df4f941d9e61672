package hub_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
	wsHandler "github.com/nuhaa333/chat-app/internal/handler/websocket"
	"github.com/nuhaa333/chat-app/internal/hub"
	gormpersistence "github.com/nuhaa333/chat-app/internal/infra/persistence/gorm"
	"github.com/nuhaa333/chat-app/internal/infra/setup"
	"github.com/nuhaa333/chat-app/internal/middleware"
	"github.com/nuhaa333/chat-app/internal/repository/mocks"
	"github.com/nuhaa333/chat-app/internal/service"
)

type fixture struct {
	server   *httptest.Server
	auth     *service.AuthService
	rooms    *service.RoomService
	users    *gormpersistence.GormUserRepository
	presence *service.PresenceService
	hub      *hub.Hub
}

type fixtureConfig struct {
	clock   clockwork.Clock
	grace   time.Duration
	hubOpts []hub.HubOption
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureConfig{clock: clockwork.NewRealClock(), grace: time.Minute})
}

func newFixtureWith(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, setup.MigrateDB(db))

	broker := fanout.NewBroker(64)
	t.Cleanup(broker.Close)

	typingRepo := new(mocks.TypingRepository)
	typingRepo.On("List", mock.Anything, mock.Anything).Return([]domain.TypingState{}, nil)
	typingRepo.On("Set", mock.Anything, mock.Anything).Return(nil)
	typingRepo.On("Remove", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	presenceRepo := new(mocks.PresenceRepository)
	presenceRepo.On("SetOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	presenceRepo.On("RefreshLease", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	presenceRepo.On("ReleaseLease", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	users := gormpersistence.NewGormUserRepository(db)
	auth, err := service.NewAuthService(users, "test-secret", 1)
	require.NoError(t, err)
	rooms := service.NewRoomService(gormpersistence.NewGormRoomRepository(db), gormpersistence.NewGormMessageRepository(db), users, broker)
	messages := service.NewMessageService(gormpersistence.NewGormMessageRepository(db), rooms, broker, broker, nil)
	typing := service.NewTypingService(typingRepo, rooms, broker, broker, clockwork.NewRealClock(), 10*time.Millisecond)
	t.Cleanup(typing.Close)
	presence := service.NewPresenceService(presenceRepo, users, broker, broker, cfg.clock, cfg.grace)

	h := hub.NewHub(messages, typing, presence, cfg.hubOpts...)
	go h.Run()
	t.Cleanup(h.Shutdown)

	r := gin.New()
	r.GET("/ws", middleware.Auth(auth), wsHandler.NewWebSocketHandler(h, auth, presence, "").HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{server: srv, auth: auth, rooms: rooms, users: users, presence: presence, hub: h}
}

func (f *fixture) user(t *testing.T, name string) (string, string) {
	t.Helper()
	ctx := context.Background()
	u, err := f.auth.Register(ctx, name, name+"-"+uuid.NewString()[:8]+"@example.com", "secret1")
	require.NoError(t, err)
	stored, err := f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	token, _, err := f.auth.Login(ctx, stored.Email, "secret1")
	require.NoError(t, err)
	return u.ID, token
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil returns the first frame of the given type.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) gjson.Result {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s frame", kind)
		frame := gjson.ParseBytes(data)
		if frame.Get("type").String() == kind {
			return frame.Get("data")
		}
	}
}

func TestHub_MessagesReachSubscribers(t *testing.T) {
	// Arrange
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	room, err := f.rooms.GetOrCreatePrivateRoom(context.Background(), alice, bob)
	require.NoError(t, err)

	aliceConn := f.dial(t, aliceToken)
	bobConn := f.dial(t, bobToken)
	require.NoError(t, aliceConn.WriteJSON(map[string]string{"type": "subscribe_room", "room_id": room.ID}))
	readUntil(t, aliceConn, hub.FrameSubscribed)

	// Act
	require.NoError(t, bobConn.WriteJSON(map[string]any{"type": "send_message", "room_id": room.ID, "text": "hi", "client_msg_id": "c1"}))

	// Assert
	msg := readUntil(t, aliceConn, hub.FrameMessage)
	assert.Equal(t, "hi", msg.Get("text").String())
	assert.Equal(t, bob, msg.Get("sender_id").String())
	assert.EqualValues(t, 1, msg.Get("seq").Int())
	assert.False(t, msg.Get("read."+alice).Bool())

	require.NoError(t, aliceConn.WriteJSON(map[string]string{"type": "mark_read", "message_id": msg.Get("id").String()}))
	read := readUntil(t, aliceConn, hub.FrameMessageRead)
	assert.Equal(t, alice, read.Get("reader_id").String())
}

func TestHub_TypingVisibleToOthers(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	room, err := f.rooms.GetOrCreatePrivateRoom(context.Background(), alice, bob)
	require.NoError(t, err)

	aliceConn := f.dial(t, aliceToken)
	bobConn := f.dial(t, bobToken)
	require.NoError(t, aliceConn.WriteJSON(map[string]string{"type": "subscribe_room", "room_id": room.ID}))
	readUntil(t, aliceConn, hub.FrameSubscribed)

	require.NoError(t, bobConn.WriteJSON(map[string]any{"type": "typing", "room_id": room.ID, "is_typing": true}))

	// The first typing frame is the empty snapshot.
	for {
		frame := readUntil(t, aliceConn, hub.FrameTyping)
		if frame.Get("typists.#").Int() > 0 {
			assert.Equal(t, bob, frame.Get("typists.0.user_id").String())
			assert.Equal(t, "bob", frame.Get("typists.0.display_name").String())
			return
		}
	}
}

func TestHub_SendFailureReturnsDraft(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, _ := f.user(t, "bob")
	_, carolToken := f.user(t, "carol")
	room, err := f.rooms.GetOrCreatePrivateRoom(context.Background(), alice, bob)
	require.NoError(t, err)

	aliceConn := f.dial(t, aliceToken)
	require.NoError(t, aliceConn.WriteJSON(map[string]any{"type": "send_message", "room_id": room.ID, "text": "  "}))
	failed := readUntil(t, aliceConn, hub.FrameSendFailed)
	assert.Equal(t, room.ID, failed.Get("draft.room_id").String())
	assert.Equal(t, service.ErrInvalidMessage.Error(), failed.Get("error").String())

	carolConn := f.dial(t, carolToken)
	require.NoError(t, carolConn.WriteJSON(map[string]any{"type": "send_message", "room_id": room.ID, "text": "sneaky"}))
	failed = readUntil(t, carolConn, hub.FrameSendFailed)
	assert.Equal(t, "sneaky", failed.Get("draft.text").String())
	assert.Equal(t, service.ErrPermissionDenied.Error(), failed.Get("error").String())
}

func TestHub_RoomDeletedEndsSubscription(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, _ := f.user(t, "bob")
	room, err := f.rooms.GetOrCreatePrivateRoom(context.Background(), alice, bob)
	require.NoError(t, err)

	aliceConn := f.dial(t, aliceToken)
	require.NoError(t, aliceConn.WriteJSON(map[string]string{"type": "subscribe_room", "room_id": room.ID}))
	readUntil(t, aliceConn, hub.FrameSubscribed)

	require.NoError(t, f.rooms.DeleteRoom(context.Background(), bob, room.ID))

	deleted := readUntil(t, aliceConn, hub.FrameRoomDeleted)
	assert.Equal(t, room.ID, deleted.Get("room_id").String())
}

func TestHub_RejectsUnauthenticatedUpgrade(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestHub_FramesFromOneClientApplyInOrder(t *testing.T) {
	// Arrange
	f := newFixture(t)
	alice, aliceToken := f.user(t, "alice")
	bob, bobToken := f.user(t, "bob")
	room, err := f.rooms.GetOrCreatePrivateRoom(context.Background(), alice, bob)
	require.NoError(t, err)

	aliceConn := f.dial(t, aliceToken)
	bobConn := f.dial(t, bobToken)
	require.NoError(t, aliceConn.WriteJSON(map[string]string{"type": "subscribe_room", "room_id": room.ID}))
	readUntil(t, aliceConn, hub.FrameSubscribed)

	// Act: back-to-back sends without waiting for anything in between.
	const n = 30
	for i := 0; i < n; i++ {
		require.NoError(t, bobConn.WriteJSON(map[string]any{
			"type": "send_message", "room_id": room.ID, "text": fmt.Sprintf("m%02d", i),
		}))
	}

	// Assert
	for i := 0; i < n; i++ {
		msg := readUntil(t, aliceConn, hub.FrameMessage)
		assert.Equal(t, fmt.Sprintf("m%02d", i), msg.Get("text").String())
		assert.EqualValues(t, i+1, msg.Get("seq").Int())
	}
}

func TestHub_DefaultKeepAliveFitsPresenceGrace(t *testing.T) {
	f := newFixtureWith(t, fixtureConfig{clock: clockwork.NewRealClock(), grace: service.DefaultPresenceGrace})

	assert.Less(t, f.hub.PingPeriod(), service.DefaultPresenceGrace)
	assert.LessOrEqual(t, f.hub.PingPeriod(), service.DefaultPresenceGrace/3)
}

func TestHub_ActiveConnectionStaysOnlinePastGrace(t *testing.T) {
	// Arrange
	clock := clockwork.NewFakeClock()
	f := newFixtureWith(t, fixtureConfig{clock: clock, grace: service.DefaultPresenceGrace})
	alice, aliceToken := f.user(t, "alice")
	bob, _ := f.user(t, "bob")
	room, err := f.rooms.GetOrCreatePrivateRoom(context.Background(), alice, bob)
	require.NoError(t, err)

	conn := f.dial(t, aliceToken)
	require.Eventually(t, func() bool { return f.presence.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)

	// Act: a frame arrives two thirds into the grace period.
	clock.Advance(20 * time.Second)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe_room", "room_id": room.ID}))
	readUntil(t, conn, hub.FrameSubscribed)
	clock.Advance(20 * time.Second)

	// Assert: 40s after connect, but only 20s after the last frame.
	assert.Never(t, func() bool { return f.presence.ActiveSessions() == 0 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestHub_PongsKeepPresenceAlive(t *testing.T) {
	// Arrange
	clock := clockwork.NewFakeClock()
	f := newFixtureWith(t, fixtureConfig{
		clock:   clock,
		grace:   service.DefaultPresenceGrace,
		hubOpts: []hub.HubOption{hub.WithPingPeriod(50 * time.Millisecond)},
	})
	_, aliceToken := f.user(t, "alice")
	conn := f.dial(t, aliceToken)
	// Reading lets the client answer pings.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	require.Eventually(t, func() bool { return f.presence.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)

	// Act: the client sends nothing but pongs.
	clock.Advance(20 * time.Second)
	time.Sleep(300 * time.Millisecond)
	clock.Advance(20 * time.Second)

	// Assert
	assert.Never(t, func() bool { return f.presence.ActiveSessions() == 0 }, 200*time.Millisecond, 10*time.Millisecond)
}
