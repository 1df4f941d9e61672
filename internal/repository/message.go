package repository

import (
	"context"

	"github.com/nuhaa333/chat-app/internal/domain"
)

// MessageRepository is the durable message log plus read receipts.
type MessageRepository interface {
	// Append assigns Seq and Timestamp, inserts the message and one receipt per
	// participant (sender read, others unread) and bumps the room summary,
	// all in one transaction. If msg.ClientMsgID matches an existing message of
	// the same room and sender, that message is returned with created=false.
	Append(ctx context.Context, msg *domain.Message, participants []string) (stored *domain.Message, created bool, err error)

	// FindByID loads a message with its read map.
	FindByID(ctx context.Context, id string) (*domain.Message, error)

	// ListAfter returns up to limit messages with Seq > afterSeq in Seq order.
	// limit <= 0 means no limit.
	ListAfter(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]domain.Message, error)

	// MarkRead flips the reader's receipt to read. changed is false when the
	// receipt was already read or does not exist. ErrMessageNotFound when the
	// message is unknown.
	MarkRead(ctx context.Context, messageID, readerID string) (msg *domain.Message, changed bool, err error)

	// MarkReadUpTo flips all unread receipts of readerID in the room with
	// Seq <= uptoSeq and returns the affected message ids.
	MarkReadUpTo(ctx context.Context, roomID, readerID string, uptoSeq uint64) ([]string, error)

	// CountUnread counts receipts of userID in roomID that are still unread.
	CountUnread(ctx context.Context, roomID, userID string) (int64, error)

	// SearchPrefix finds messages whose text starts with prefix within roomIDs.
	SearchPrefix(ctx context.Context, roomIDs []string, prefix string, limit int) ([]domain.Message, error)
}
