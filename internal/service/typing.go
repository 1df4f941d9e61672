package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/debounce"
	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// DefaultTypingWindow is how long typing updates of one user are coalesced.
const DefaultTypingWindow = 300 * time.Millisecond

// DefaultTypingTTL is how long a typing flag counts without a fresh update.
const DefaultTypingTTL = 10 * time.Second

const typingWriteTimeout = 5 * time.Second

type typingKey struct {
	roomID string
	userID string
}

// TypingService tracks who is typing in each room.
type TypingService struct {
	repo   repository.TypingRepository
	rooms  *RoomService
	pub    fanout.Publisher
	broker *fanout.Broker
	clock  clockwork.Clock
	retry  RetryPolicy
	ttl    time.Duration
	queue  *debounce.Queue[typingKey, domain.TypingState]
}

type TypingServiceOption func(*TypingService)

// WithTypingTTL sets how long an entry survives in subscriptions without
// being refreshed. It should match the store's expiry.
func WithTypingTTL(ttl time.Duration) TypingServiceOption {
	return func(s *TypingService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewTypingService creates a TypingService. Updates for the same room and
// user within window collapse into one trailing write.
func NewTypingService(repo repository.TypingRepository, rooms *RoomService, pub fanout.Publisher, broker *fanout.Broker, clock clockwork.Clock, window time.Duration, opts ...TypingServiceOption) *TypingService {
	if repo == nil {
		panic("TypingRepository cannot be nil for TypingService")
	}
	if rooms == nil {
		panic("RoomService cannot be nil for TypingService")
	}
	if pub == nil || broker == nil {
		panic("Publisher and Broker cannot be nil for TypingService")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = DefaultTypingWindow
	}
	s := &TypingService{repo: repo, rooms: rooms, pub: pub, broker: broker, clock: clock, retry: DefaultRetryPolicy, ttl: DefaultTypingTTL}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = debounce.New(window, s.flush, debounce.WithClock(clock), debounce.WithMaxWait(4*window))
	return s
}

// SetTyping records the user's typing flag for the room.
func (s *TypingService) SetTyping(ctx context.Context, roomID, userID, displayName string, isTyping bool) error {
	if _, err := s.rooms.GetRoom(ctx, roomID, userID); err != nil {
		return err
	}
	state := domain.TypingState{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: strings.TrimSpace(displayName),
		IsTyping:    isTyping,
		UpdatedAt:   s.clock.Now().UTC(),
	}
	if !s.queue.Submit(typingKey{roomID: roomID, userID: userID}, state) {
		return ErrInternalServer
	}
	return nil
}

func (s *TypingService) flush(key typingKey, state domain.TypingState) {
	ctx, cancel := context.WithTimeout(context.Background(), typingWriteTimeout)
	defer cancel()
	logCtx := logrus.WithFields(logrus.Fields{"room_id": key.roomID, "user_id": key.userID})

	err := retryIdempotent(ctx, s.retry, func() error { return s.repo.Set(ctx, state) })
	if err != nil {
		logCtx.WithError(err).Warn("Failed to store typing state")
		return
	}
	publish(ctx, s.pub, fanout.RoomTypingTopic(key.roomID), fanout.KindTyping, state, logCtx)
}

// SubscribeTyping streams the set of users typing in the room, excluding the
// viewer. The first value is the stored snapshot. Entries not refreshed within
// the TTL drop out, so a client that vanished without clearing its flag does
// not stay typing forever.
func (s *TypingService) SubscribeTyping(ctx context.Context, roomID, viewerID string) (*Stream[[]domain.Typist], error) {
	if _, err := s.rooms.GetRoom(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	topic := fanout.RoomTypingTopic(roomID)
	sub := s.broker.Subscribe(topic)

	snapshot := func() (map[string]domain.TypingState, error) {
		var states []domain.TypingState
		err := retryIdempotent(ctx, s.retry, func() error {
			var err error
			states, err = s.repo.List(ctx, roomID)
			return err
		})
		if err != nil {
			return nil, mapRepoError(err)
		}
		set := make(map[string]domain.TypingState, len(states))
		for _, st := range states {
			set[st.UserID] = st
		}
		return set, nil
	}
	current, err := snapshot()
	if err != nil {
		sub.Close()
		return nil, err
	}

	return newStream(ctx, func(ctx context.Context, emit func([]domain.Typist) bool) error {
		if !emit(typists(current, viewerID)) {
			sub.Close()
			return nil
		}
		resubscribe := func() (*fanout.Subscription, error) {
			next := s.broker.Subscribe(topic)
			set, err := snapshot()
			if err != nil {
				next.Close()
				return nil, err
			}
			current = set
			emit(typists(current, viewerID))
			return next, nil
		}
		ticker := s.clock.NewTicker(s.pruneInterval())
		defer ticker.Stop()
		prune := func() bool {
			before := typists(current, viewerID)
			cutoff := s.clock.Now().Add(-s.ttl)
			for id, st := range current {
				if st.UpdatedAt.Before(cutoff) {
					delete(current, id)
				}
			}
			after := typists(current, viewerID)
			if sameTypists(before, after) {
				return true
			}
			return emit(after)
		}
		return followTicking(ctx, sub, resubscribe, func(ev fanout.Event) bool {
			var st domain.TypingState
			if ev.Decode(&st) != nil || st.UserID == "" {
				return true
			}
			if prev, ok := current[st.UserID]; ok && st.UpdatedAt.Before(prev.UpdatedAt) {
				return true
			}
			before := typists(current, viewerID)
			current[st.UserID] = st
			after := typists(current, viewerID)
			if sameTypists(before, after) {
				return true
			}
			return emit(after)
		}, ticker.Chan(), prune)
	}), nil
}

func (s *TypingService) pruneInterval() time.Duration {
	if d := s.ttl / 2; d >= 10*time.Millisecond {
		return d
	}
	return 10 * time.Millisecond
}

// ClearUser removes the user's typing flag, typically on disconnect.
func (s *TypingService) ClearUser(ctx context.Context, roomID, userID string) error {
	s.queue.Cancel(typingKey{roomID: roomID, userID: userID})
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})
	if err := retryIdempotent(ctx, s.retry, func() error { return s.repo.Remove(ctx, roomID, userID) }); err != nil {
		logCtx.WithError(err).Warn("Failed to clear typing state")
		return mapRepoError(err)
	}
	state := domain.TypingState{RoomID: roomID, UserID: userID, IsTyping: false, UpdatedAt: s.clock.Now().UTC()}
	publish(ctx, s.pub, fanout.RoomTypingTopic(roomID), fanout.KindTyping, state, logCtx)
	return nil
}

// Close flushes pending typing updates.
func (s *TypingService) Close() {
	s.queue.Close()
}

func typists(set map[string]domain.TypingState, viewerID string) []domain.Typist {
	out := make([]domain.Typist, 0, len(set))
	for _, st := range set {
		if !st.IsTyping || st.UserID == viewerID {
			continue
		}
		out = append(out, domain.Typist{UserID: st.UserID, DisplayName: st.DisplayName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func sameTypists(a, b []domain.Typist) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
