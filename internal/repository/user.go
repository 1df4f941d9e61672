package repository

import (
	"context"
	"time"

	"github.com/nuhaa333/chat-app/internal/domain"
)

// UserRepository stores registered users.
type UserRepository interface {
	// FindByEmail returns ErrUserNotFound when no user has that email.
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]domain.User, error)
	// Save creates or updates the user. ErrDuplicateEntry on email clash.
	Save(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}
