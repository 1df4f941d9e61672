package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// TypingRepository is a mock of repository.TypingRepository.
type TypingRepository struct {
	mock.Mock
}

var _ repository.TypingRepository = (*TypingRepository)(nil)

func (m *TypingRepository) Set(ctx context.Context, state domain.TypingState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *TypingRepository) List(ctx context.Context, roomID string) ([]domain.TypingState, error) {
	args := m.Called(ctx, roomID)
	states, _ := args.Get(0).([]domain.TypingState)
	return states, args.Error(1)
}

func (m *TypingRepository) Remove(ctx context.Context, roomID, userID string) error {
	return m.Called(ctx, roomID, userID).Error(0)
}

func (m *TypingRepository) Clear(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}
