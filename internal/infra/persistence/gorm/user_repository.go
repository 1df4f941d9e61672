package gormpersistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// GormUserRepository is the GORM implementation of repository.UserRepository.
type GormUserRepository struct {
	db *gorm.DB
}

var _ repository.UserRepository = (*GormUserRepository)(nil)

// NewGormUserRepository creates a GormUserRepository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	if db == nil {
		panic("database connection cannot be nil for GormUserRepository")
	}
	return &GormUserRepository{db: db}
}

// FindByEmail looks a user up by email.
func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, translate(err, "find user by email %q", email)
	}
	return &user, nil
}

// FindByID looks a user up by id.
func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "find user by id %s", id)
	}
	return &user, nil
}

// FindByIDs returns the users that exist among ids, in no particular order.
func (r *GormUserRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.User, error) {
	var users []domain.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, translate(err, "find users by ids")
	}
	return users, nil
}

// Save creates or updates the user.
func (r *GormUserRepository) Save(ctx context.Context, user *domain.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return translate(err, "save user (id: %s, email: %s)", user.ID, user.Email)
	}
	return nil
}

// UpdateLastSeen stores when the user was last online.
func (r *GormUserRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).UpdateColumn("last_seen_at", at).Error
	if err != nil {
		return translate(err, "update last seen for user %s", id)
	}
	return nil
}
