package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nuhaa333/chat-app/internal/domain"
)

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&domain.User{},
		&domain.Room{},
		&domain.RoomParticipant{},
		&domain.Message{},
		&domain.ReadReceipt{},
	}
}

// MigrateDB brings the schema up to date.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			logrus.Errorf("Failed to auto-migrate %T: %v", model, err)
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	logrus.Info("Database migration completed successfully")
	return nil
}
