package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// RoomRepository is a mock of repository.RoomRepository.
type RoomRepository struct {
	mock.Mock
}

var _ repository.RoomRepository = (*RoomRepository)(nil)

func (m *RoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	args := m.Called(ctx, id)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomRepository) FindByPairKey(ctx context.Context, pairKey string) (*domain.Room, error) {
	args := m.Called(ctx, pairKey)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}

func (m *RoomRepository) AddParticipants(ctx context.Context, roomID string, userIDs []string) error {
	return m.Called(ctx, roomID, userIDs).Error(0)
}

func (m *RoomRepository) ListForUser(ctx context.Context, userID string) ([]domain.Room, error) {
	args := m.Called(ctx, userID)
	rooms, _ := args.Get(0).([]domain.Room)
	return rooms, args.Error(1)
}

func (m *RoomRepository) SoftDelete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *RoomRepository) Purge(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
