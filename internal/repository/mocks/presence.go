package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// PresenceRepository is a mock of repository.PresenceRepository.
type PresenceRepository struct {
	mock.Mock
}

var _ repository.PresenceRepository = (*PresenceRepository)(nil)

func (m *PresenceRepository) Get(ctx context.Context, userID string) (domain.PresenceState, error) {
	args := m.Called(ctx, userID)
	st, _ := args.Get(0).(domain.PresenceState)
	return st, args.Error(1)
}

func (m *PresenceRepository) SetOnline(ctx context.Context, userID, sessionID string, ttl time.Duration, at time.Time) (bool, error) {
	args := m.Called(ctx, userID, sessionID, ttl, at)
	return args.Bool(0), args.Error(1)
}

func (m *PresenceRepository) RefreshLease(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	return m.Called(ctx, userID, sessionID, ttl).Error(0)
}

func (m *PresenceRepository) ReleaseLease(ctx context.Context, userID, sessionID string, at time.Time) (bool, error) {
	args := m.Called(ctx, userID, sessionID, at)
	return args.Bool(0), args.Error(1)
}

func (m *PresenceRepository) OnlineUsers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *PresenceRepository) HasLease(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *PresenceRepository) SetOffline(ctx context.Context, userID string, at time.Time) (bool, error) {
	args := m.Called(ctx, userID, at)
	return args.Bool(0), args.Error(1)
}
