package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
	gormpersistence "github.com/nuhaa333/chat-app/internal/infra/persistence/gorm"
	"github.com/nuhaa333/chat-app/internal/service"
)

// testStack wires the services over an in-memory SQLite database and a local broker.
type testStack struct {
	db       *gorm.DB
	broker   *fanout.Broker
	users    *gormpersistence.GormUserRepository
	rooms    *service.RoomService
	messages *service.MessageService
	typing   *memTypingRepo
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&domain.User{}, &domain.Room{}, &domain.RoomParticipant{}, &domain.Message{}, &domain.ReadReceipt{},
	))

	broker := fanout.NewBroker(64)
	t.Cleanup(broker.Close)

	users := gormpersistence.NewGormUserRepository(db)
	typing := newMemTypingRepo()
	rooms := service.NewRoomService(
		gormpersistence.NewGormRoomRepository(db),
		gormpersistence.NewGormMessageRepository(db),
		users,
		broker,
		service.WithTypingStore(typing),
	)
	messages := service.NewMessageService(gormpersistence.NewGormMessageRepository(db), rooms, broker, broker, nil)
	return &testStack{db: db, broker: broker, users: users, rooms: rooms, messages: messages, typing: typing}
}

func (s *testStack) seedUser(t *testing.T, name string) string {
	t.Helper()
	u := &domain.User{ID: uuid.NewString(), DisplayName: name, Email: name + "@example.com", Password: "x"}
	require.NoError(t, s.users.Save(context.Background(), u))
	return u.ID
}

// memTypingRepo is an in-memory repository.TypingRepository.
type memTypingRepo struct {
	mu     sync.Mutex
	states map[string]map[string]domain.TypingState
	sets   int
}

func newMemTypingRepo() *memTypingRepo {
	return &memTypingRepo{states: make(map[string]map[string]domain.TypingState)}
}

func (r *memTypingRepo) Set(_ context.Context, st domain.TypingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[st.RoomID] == nil {
		r.states[st.RoomID] = make(map[string]domain.TypingState)
	}
	r.states[st.RoomID][st.UserID] = st
	r.sets++
	return nil
}

func (r *memTypingRepo) List(_ context.Context, roomID string) ([]domain.TypingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TypingState, 0, len(r.states[roomID]))
	for _, st := range r.states[roomID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *memTypingRepo) Remove(_ context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states[roomID], userID)
	return nil
}

func (r *memTypingRepo) Clear(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, roomID)
	return nil
}

func (r *memTypingRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets
}

// memPresenceRepo is an in-memory repository.PresenceRepository driven by a clock.
type memPresenceRepo struct {
	mu     sync.Mutex
	now    func() time.Time
	states map[string]domain.PresenceState
	leases map[string]map[string]time.Time
}

func newMemPresenceRepo(now func() time.Time) *memPresenceRepo {
	return &memPresenceRepo{
		now:    now,
		states: make(map[string]domain.PresenceState),
		leases: make(map[string]map[string]time.Time),
	}
}

func (r *memPresenceRepo) Get(_ context.Context, userID string) (domain.PresenceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[userID]
	if !ok {
		return domain.PresenceState{UserID: userID, State: domain.PresenceOffline}, nil
	}
	return st, nil
}

func (r *memPresenceRepo) SetOnline(_ context.Context, userID, sessionID string, ttl time.Duration, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leases[userID] == nil {
		r.leases[userID] = make(map[string]time.Time)
	}
	r.leases[userID][sessionID] = r.now().Add(ttl)
	was := r.states[userID].State == domain.PresenceOnline
	if !was {
		r.states[userID] = domain.PresenceState{UserID: userID, State: domain.PresenceOnline, LastChanged: at}
	}
	return was, nil
}

func (r *memPresenceRepo) RefreshLease(_ context.Context, userID, sessionID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leases[userID][sessionID]; ok {
		r.leases[userID][sessionID] = r.now().Add(ttl)
	}
	return nil
}

func (r *memPresenceRepo) ReleaseLease(_ context.Context, userID, sessionID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases[userID], sessionID)
	if r.liveLocked(userID) {
		return false, nil
	}
	return r.offlineLocked(userID, at), nil
}

func (r *memPresenceRepo) OnlineUsers(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, st := range r.states {
		if st.State == domain.PresenceOnline {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memPresenceRepo) HasLease(_ context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(userID), nil
}

func (r *memPresenceRepo) SetOffline(_ context.Context, userID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offlineLocked(userID, at), nil
}

func (r *memPresenceRepo) liveLocked(userID string) bool {
	now := r.now()
	for _, exp := range r.leases[userID] {
		if exp.After(now) {
			return true
		}
	}
	return false
}

func (r *memPresenceRepo) offlineLocked(userID string, at time.Time) bool {
	if r.states[userID].State != domain.PresenceOnline {
		return false
	}
	r.states[userID] = domain.PresenceState{UserID: userID, State: domain.PresenceOffline, LastChanged: at}
	return true
}
