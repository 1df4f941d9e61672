package gormpersistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

// GormRoomRepository is the GORM implementation of repository.RoomRepository.
type GormRoomRepository struct {
	db *gorm.DB
}

var _ repository.RoomRepository = (*GormRoomRepository)(nil)

// NewGormRoomRepository creates a GormRoomRepository.
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID loads a live room with its participants.
func (r *GormRoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	var room domain.Room
	// Soft-deleted rooms are excluded by gorm's DeletedAt scope.
	err := r.db.WithContext(ctx).Preload("Participants").First(&room, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "find room by id %s", id)
	}
	return &room, nil
}

// FindByPairKey loads the private room of a participant pair.
func (r *GormRoomRepository) FindByPairKey(ctx context.Context, pairKey string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Preload("Participants").Where("pair_key = ?", pairKey).First(&room).Error
	if err != nil {
		return nil, translate(err, "find room by pair key %q", pairKey)
	}
	return &room, nil
}

// Create inserts the room together with its participants.
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Participants are saved through the association.
		return tx.Create(room).Error
	})
	if err != nil {
		return translate(err, "create room %s", room.ID)
	}
	return nil
}

// AddParticipants inserts the missing participant rows.
func (r *GormRoomRepository) AddParticipants(ctx context.Context, roomID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]domain.RoomParticipant, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, domain.RoomParticipant{RoomID: roomID, UserID: id})
	}
	// Existing members hit the composite key and are skipped.
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return translate(err, "add %d participants to room %s", len(userIDs), roomID)
	}
	return nil
}

// ListForUser returns the rooms the user participates in, latest activity first.
func (r *GormRoomRepository) ListForUser(ctx context.Context, userID string) ([]domain.Room, error) {
	var rooms []domain.Room
	db := r.db.WithContext(ctx)
	member := db.Model(&domain.RoomParticipant{}).Select("room_id").Where("user_id = ?", userID)
	err := db.Preload("Participants").
		Where("id IN (?)", member).
		Order("last_message_at DESC").
		Order("created_at DESC"). // rooms without messages yet
		Find(&rooms).Error
	if err != nil {
		return nil, translate(err, "list rooms for user %s", userID)
	}
	return rooms, nil
}

// SoftDelete hides the room and frees its pair key so the pair can start over.
func (r *GormRoomRepository) SoftDelete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A NULL key leaves the unique index free for a new room of the same pair.
		res := tx.Model(&domain.Room{}).Where("id = ?", id).UpdateColumn("pair_key", nil)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Delete(&domain.Room{}, "id = ?", id).Error
	})
	if err != nil {
		return translate(err, "soft delete room %s", id)
	}
	return nil
}

// Purge removes every row owned by the room, including the soft-deleted room itself.
func (r *GormRoomRepository) Purge(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Children first, then the room itself past the soft-delete scope.
		if err := tx.Where("room_id = ?", id).Delete(&domain.ReadReceipt{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&domain.RoomParticipant{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&domain.Room{}, "id = ?", id).Error
	})
	if err != nil {
		return translate(err, "purge room %s", id)
	}
	return nil
}
