package gormpersistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

const mediaSummary = "[attachment]"

// GormMessageRepository is the GORM implementation of repository.MessageRepository.
type GormMessageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ repository.MessageRepository = (*GormMessageRepository)(nil)

// NewGormMessageRepository creates a GormMessageRepository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageRepository")
	}
	return &GormMessageRepository{db: db, now: time.Now}
}

// Append stores msg and its receipts, assigning Seq and Timestamp under the room row lock.
func (r *GormMessageRepository) Append(ctx context.Context, msg *domain.Message, participants []string) (*domain.Message, bool, error) {
	var existing *domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if msg.ClientMsgID != nil {
			found, err := findByClientID(tx, msg)
			if err == nil {
				existing = found
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		// Bumping last_seq first takes the row lock, so appends in one room serialize here.
		res := tx.Model(&domain.Room{}).Where("id = ?", msg.RoomID).
			UpdateColumn("last_seq", gorm.Expr("last_seq + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var room domain.Room
		if err := tx.Select("id", "last_seq", "last_message_at").First(&room, "id = ?", msg.RoomID).Error; err != nil {
			return err
		}

		// Timestamps never go backwards within a room, even if the clock does.
		ts := r.now().UTC()
		if ts.Before(room.LastMessageAt) {
			ts = room.LastMessageAt
		}
		msg.Seq = room.LastSeq
		msg.Timestamp = ts
		msg.Receipts = buildReceipts(msg, participants)

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		// Room list preview.
		summary := msg.Text
		if summary == "" && msg.HasMedia() {
			summary = mediaSummary
		}
		return tx.Model(&domain.Room{}).Where("id = ?", msg.RoomID).UpdateColumns(map[string]any{
			"last_message_at":   ts,
			"last_message_text": summary,
		}).Error
	})

	if err != nil && msg.ClientMsgID != nil && isDuplicateEntryError(err) {
		// A concurrent retry with the same key won the insert.
		found, findErr := findByClientID(r.db.WithContext(ctx), msg)
		if findErr == nil {
			found.FillRead()
			return found, false, nil
		}
	}
	if err != nil {
		return nil, false, translate(err, "append message to room %s", msg.RoomID)
	}
	if existing != nil {
		existing.FillRead()
		return existing, false, nil
	}
	msg.FillRead()
	return msg, true, nil
}

func findByClientID(db *gorm.DB, msg *domain.Message) (*domain.Message, error) {
	var found domain.Message
	err := db.Preload("Receipts").
		Where("room_id = ? AND sender_id = ? AND client_msg_id = ?", msg.RoomID, msg.SenderID, *msg.ClientMsgID).
		First(&found).Error
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func buildReceipts(msg *domain.Message, participants []string) []domain.ReadReceipt {
	receipts := make([]domain.ReadReceipt, 0, len(participants))
	seen := make(map[string]struct{}, len(participants))
	for _, uid := range participants {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		rc := domain.ReadReceipt{MessageID: msg.ID, UserID: uid, RoomID: msg.RoomID}
		// The sender has read their own message.
		if uid == msg.SenderID {
			at := msg.Timestamp
			rc.Read = true
			rc.ReadAt = &at
		}
		receipts = append(receipts, rc)
	}
	return receipts
}

// FindByID loads a message with its read map.
func (r *GormMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	err := r.db.WithContext(ctx).Preload("Receipts").First(&msg, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "find message by id %s", id)
	}
	msg.FillRead()
	return &msg, nil
}

// ListAfter returns messages with Seq greater than afterSeq in Seq order.
func (r *GormMessageRepository) ListAfter(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	q := r.db.WithContext(ctx).Preload("Receipts").
		Where("room_id = ? AND seq > ?", roomID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, translate(err, "list messages of room %s after seq %d", roomID, afterSeq)
	}
	for i := range msgs {
		msgs[i].FillRead()
	}
	return msgs, nil
}

// MarkRead flips one receipt from unread to read.
func (r *GormMessageRepository) MarkRead(ctx context.Context, messageID, readerID string) (*domain.Message, bool, error) {
	db := r.db.WithContext(ctx)

	// Distinguish an unknown message from a reader without a receipt.
	var head domain.Message
	if err := db.Select("id").First(&head, "id = ?", messageID).Error; err != nil {
		return nil, false, translate(err, "find message %s for read", messageID)
	}

	// Only an unread receipt flips; a second call is a no-op.
	now := r.now().UTC()
	res := db.Model(&domain.ReadReceipt{}).
		Where("message_id = ? AND user_id = ? AND is_read = ?", messageID, readerID, false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if res.Error != nil {
		return nil, false, translate(res.Error, "mark message %s read by %s", messageID, readerID)
	}

	msg, err := r.FindByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, res.RowsAffected > 0, nil
}

// MarkReadUpTo flips every unread receipt of the reader up to and including uptoSeq.
func (r *GormMessageRepository) MarkReadUpTo(ctx context.Context, roomID, readerID string, uptoSeq uint64) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Subquery: ids of the room's messages up to uptoSeq.
		inRange := tx.Model(&domain.Message{}).Select("id").Where("room_id = ? AND seq <= ?", roomID, uptoSeq)
		err := tx.Model(&domain.ReadReceipt{}).
			Where("room_id = ? AND user_id = ? AND is_read = ? AND message_id IN (?)", roomID, readerID, false, inRange).
			Pluck("message_id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}
		return tx.Model(&domain.ReadReceipt{}).
			Where("user_id = ? AND message_id IN ?", readerID, ids).
			Updates(map[string]any{"is_read": true, "read_at": r.now().UTC()}).Error
	})
	if err != nil {
		return nil, translate(err, "mark room %s read by %s up to %d", roomID, readerID, uptoSeq)
	}
	return ids, nil
}

// CountUnread counts the reader's unread receipts in the room without loading messages.
func (r *GormMessageRepository) CountUnread(ctx context.Context, roomID, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ReadReceipt{}).
		Where("room_id = ? AND user_id = ? AND is_read = ?", roomID, userID, false).
		Count(&n).Error
	if err != nil {
		return 0, translate(err, "count unread in room %s for %s", roomID, userID)
	}
	return n, nil
}

// SearchPrefix finds messages in roomIDs whose text starts with prefix, newest first.
func (r *GormMessageRepository) SearchPrefix(ctx context.Context, roomIDs []string, prefix string, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	if len(roomIDs) == 0 || prefix == "" {
		return msgs, nil
	}
	q := r.db.WithContext(ctx).
		Where("room_id IN ?", roomIDs).
		Where("text LIKE ? ESCAPE '!'", escapeLike(prefix)+"%").
		Order("sent_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, translate(err, "search messages with prefix %q", prefix)
	}
	return msgs, nil
}
