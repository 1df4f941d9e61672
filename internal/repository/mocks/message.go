package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// MessageRepository is a mock of repository.MessageRepository.
type MessageRepository struct {
	mock.Mock
}

var _ repository.MessageRepository = (*MessageRepository)(nil)

func (m *MessageRepository) Append(ctx context.Context, msg *domain.Message, participants []string) (*domain.Message, bool, error) {
	args := m.Called(ctx, msg, participants)
	stored, _ := args.Get(0).(*domain.Message)
	return stored, args.Bool(1), args.Error(2)
}

func (m *MessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *MessageRepository) ListAfter(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, roomID, afterSeq, limit)
	msgs, _ := args.Get(0).([]domain.Message)
	return msgs, args.Error(1)
}

func (m *MessageRepository) MarkRead(ctx context.Context, messageID, readerID string) (*domain.Message, bool, error) {
	args := m.Called(ctx, messageID, readerID)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepository) MarkReadUpTo(ctx context.Context, roomID, readerID string, uptoSeq uint64) ([]string, error) {
	args := m.Called(ctx, roomID, readerID, uptoSeq)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MessageRepository) CountUnread(ctx context.Context, roomID, userID string) (int64, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepository) SearchPrefix(ctx context.Context, roomIDs []string, prefix string, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, roomIDs, prefix, limit)
	msgs, _ := args.Get(0).([]domain.Message)
	return msgs, args.Error(1)
}
