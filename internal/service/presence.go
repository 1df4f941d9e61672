package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// DefaultPresenceGrace is how long a silent connection counts as online.
const DefaultPresenceGrace = 30 * time.Second

const presenceWriteTimeout = 5 * time.Second

// PresenceService tracks online state from connection liveness.
type PresenceService struct {
	repo     repository.PresenceRepository
	userRepo repository.UserRepository
	pub      fanout.Publisher
	broker   *fanout.Broker
	clock    clockwork.Clock
	grace    time.Duration
	retry    RetryPolicy

	mu       sync.Mutex
	sessions map[string]*PresenceSession
}

// NewPresenceService creates a PresenceService. Sessions that stop touching
// go offline grace after their last sign of life.
func NewPresenceService(repo repository.PresenceRepository, userRepo repository.UserRepository, pub fanout.Publisher, broker *fanout.Broker, clock clockwork.Clock, grace time.Duration) *PresenceService {
	if repo == nil {
		panic("PresenceRepository cannot be nil for PresenceService")
	}
	if userRepo == nil {
		panic("UserRepository cannot be nil for PresenceService")
	}
	if pub == nil || broker == nil {
		panic("Publisher and Broker cannot be nil for PresenceService")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if grace <= 0 {
		grace = DefaultPresenceGrace
	}
	return &PresenceService{
		repo:     repo,
		userRepo: userRepo,
		pub:      pub,
		broker:   broker,
		clock:    clock,
		grace:    grace,
		retry:    DefaultRetryPolicy,
		sessions: make(map[string]*PresenceSession),
	}
}

type sessionState int

const (
	sessionActive sessionState = iota
	sessionDropped
	sessionExpired // timed out while the connection may still be open
	sessionClosed
)

// PresenceSession is the online claim of one connection. While active it
// must be touched within the grace period; when it stops being touched the
// pending offline transition applies on its own.
type PresenceSession struct {
	svc    *PresenceService
	id     string
	userID string

	mu    sync.Mutex
	state sessionState
	timer clockwork.Timer
}

// ID returns the session id.
func (p *PresenceSession) ID() string { return p.id }

// UserID returns the session's user.
func (p *PresenceSession) UserID() string { return p.userID }

// Connect marks the user online for a new connection and arms its offline switch.
func (s *PresenceService) Connect(ctx context.Context, userID string) (*PresenceSession, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	sess := &PresenceSession{svc: s, id: uuid.NewString(), userID: userID}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": sess.id})

	at := s.clock.Now().UTC()
	var wasOnline bool
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		wasOnline, err = s.repo.SetOnline(ctx, userID, sess.id, s.grace, at)
		return err
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to mark user online")
		return nil, mapRepoError(err)
	}

	// Armed together with the online write: if nothing touches or closes the
	// session, it goes offline by itself.
	sess.mu.Lock()
	sess.timer = s.clock.AfterFunc(s.grace, sess.expire)
	sess.mu.Unlock()

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	if !wasOnline {
		s.publishState(ctx, domain.PresenceState{UserID: userID, State: domain.PresenceOnline, LastChanged: at}, logCtx)
	}
	logCtx.Debug("Presence session connected")
	return sess, nil
}

// Grace returns how long a session stays online without a touch.
func (s *PresenceService) Grace() time.Duration { return s.grace }

// Touch records liveness: it re-arms the offline switch and refreshes the lease.
// A session that expired while its connection stayed open goes back online.
func (p *PresenceSession) Touch(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case sessionExpired:
		p.mu.Unlock()
		return p.revive(ctx)
	case sessionActive:
	default:
		p.mu.Unlock()
		return nil
	}
	p.timer.Reset(p.svc.grace)
	p.mu.Unlock()

	err := retryIdempotent(ctx, p.svc.retry, func() error {
		return p.svc.repo.RefreshLease(ctx, p.userID, p.id, p.svc.grace)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": p.userID, "session_id": p.id}).WithError(err).Warn("Failed to refresh presence lease")
		return mapRepoError(err)
	}
	return nil
}

func (p *PresenceSession) revive(ctx context.Context) error {
	s := p.svc
	logCtx := logrus.WithFields(logrus.Fields{"user_id": p.userID, "session_id": p.id})
	at := s.clock.Now().UTC()
	var wasOnline bool
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		wasOnline, err = s.repo.SetOnline(ctx, p.userID, p.id, s.grace, at)
		return err
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to revive presence session")
		return mapRepoError(err)
	}

	p.mu.Lock()
	if p.state != sessionExpired {
		// Closed or revived concurrently.
		p.mu.Unlock()
		return nil
	}
	p.state = sessionActive
	p.timer = s.clock.AfterFunc(s.grace, p.expire)
	p.mu.Unlock()

	s.mu.Lock()
	s.sessions[p.id] = p
	s.mu.Unlock()

	if !wasOnline {
		s.publishState(ctx, domain.PresenceState{UserID: p.userID, State: domain.PresenceOnline, LastChanged: at}, logCtx)
	}
	logCtx.Info("Presence session revived")
	return nil
}

// Close ends the session explicitly. The user goes offline unless another
// session of theirs is still live.
func (p *PresenceSession) Close(ctx context.Context) error {
	p.mu.Lock()
	prev := p.state
	if prev == sessionClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = sessionClosed
	p.timer.Stop()
	p.mu.Unlock()

	if prev == sessionExpired {
		// Already released by the offline switch.
		return nil
	}
	return p.svc.release(ctx, p)
}

// Drop records an ungraceful disconnect. Nothing is written now; the offline
// switch fires once the grace period since the last touch has passed.
func (p *PresenceSession) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case sessionActive:
		p.state = sessionDropped
	case sessionExpired:
		p.state = sessionClosed
	}
}

func (p *PresenceSession) expire() {
	p.mu.Lock()
	switch p.state {
	case sessionActive:
		p.state = sessionExpired
	case sessionDropped:
		p.state = sessionClosed
	default:
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()
	logrus.WithFields(logrus.Fields{"user_id": p.userID, "session_id": p.id}).Info("Presence session expired")
	_ = p.svc.release(ctx, p)
}

func (s *PresenceService) release(ctx context.Context, p *PresenceSession) error {
	s.mu.Lock()
	delete(s.sessions, p.id)
	s.mu.Unlock()

	logCtx := logrus.WithFields(logrus.Fields{"user_id": p.userID, "session_id": p.id})
	at := s.clock.Now().UTC()
	var wentOffline bool
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		wentOffline, err = s.repo.ReleaseLease(ctx, p.userID, p.id, at)
		return err
	})
	if err != nil {
		// The lease expires on its own and the sweeper finishes the job.
		logCtx.WithError(err).Error("Failed to release presence lease")
		return mapRepoError(err)
	}
	if wentOffline {
		s.wentOffline(ctx, p.userID, at, logCtx)
	}
	return nil
}

func (s *PresenceService) wentOffline(ctx context.Context, userID string, at time.Time, logCtx *logrus.Entry) {
	if err := s.userRepo.UpdateLastSeen(ctx, userID, at); err != nil && !errors.Is(err, repository.ErrNotFound) {
		logCtx.WithError(err).Warn("Failed to store last seen time")
	}
	s.publishState(ctx, domain.PresenceState{UserID: userID, State: domain.PresenceOffline, LastChanged: at}, logCtx)
	logCtx.Info("User went offline")
}

// Sweep marks offline every user recorded online without a live lease, such
// as users whose node crashed. It returns how many users it flipped.
func (s *PresenceService) Sweep(ctx context.Context) (int, error) {
	logCtx := logrus.WithField("component", "presence_sweep")
	users, err := s.repo.OnlineUsers(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list online users")
		return 0, mapRepoError(err)
	}

	flipped := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return flipped, ctx.Err()
		}
		has, err := s.repo.HasLease(ctx, userID)
		if err != nil {
			logCtx.WithField("user_id", userID).WithError(err).Warn("Failed to check lease")
			continue
		}
		if has {
			continue
		}
		at := s.clock.Now().UTC()
		changed, err := s.repo.SetOffline(ctx, userID, at)
		if err != nil {
			logCtx.WithField("user_id", userID).WithError(err).Warn("Failed to mark user offline")
			continue
		}
		if changed {
			flipped++
			s.wentOffline(ctx, userID, at, logCtx.WithField("user_id", userID))
		}
	}
	if flipped > 0 {
		logCtx.WithField("flipped", flipped).Info("Presence sweep finished")
	}
	return flipped, nil
}

// Get returns the user's presence state.
func (s *PresenceService) Get(ctx context.Context, userID string) (domain.PresenceState, error) {
	var st domain.PresenceState
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		st, err = s.repo.Get(ctx, userID)
		return err
	})
	if err != nil {
		return st, mapRepoError(err)
	}
	return st, nil
}

// Subscribe streams the user's presence: the current state first, then transitions.
func (s *PresenceService) Subscribe(ctx context.Context, userID string) (*Stream[domain.PresenceState], error) {
	topic := fanout.UserPresenceTopic(userID)
	sub := s.broker.Subscribe(topic)
	current, err := s.Get(ctx, userID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	return newStream(ctx, func(ctx context.Context, emit func(domain.PresenceState) bool) error {
		if !emit(current) {
			sub.Close()
			return nil
		}
		last := current
		resubscribe := func() (*fanout.Subscription, error) {
			next := s.broker.Subscribe(topic)
			st, err := s.Get(ctx, userID)
			if err != nil {
				next.Close()
				return nil, err
			}
			if st.State != last.State {
				last = st
				if !emit(st) {
					return next, nil
				}
			}
			return next, nil
		}
		return follow(ctx, sub, resubscribe, func(ev fanout.Event) bool {
			var st domain.PresenceState
			if ev.Decode(&st) != nil {
				return true
			}
			if st.LastChanged.Before(last.LastChanged) || st.State == last.State {
				return true
			}
			last = st
			return emit(st)
		})
	}), nil
}

// ActiveSessions returns the number of sessions this node holds.
func (s *PresenceService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every local session so users do not linger online until the sweep.
func (s *PresenceService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*PresenceSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.Close(ctx)
	}
}

func (s *PresenceService) publishState(ctx context.Context, st domain.PresenceState, logCtx *logrus.Entry) {
	publish(ctx, s.pub, fanout.UserPresenceTopic(st.UserID), fanout.KindPresence, st, logCtx)
}
