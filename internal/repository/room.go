package repository

import (
	"context"

	"github.com/nuhaa333/chat-app/internal/domain"
)

// RoomRepository stores rooms and their participants.
type RoomRepository interface {
	// FindByID loads a live room with participants. Soft-deleted rooms are ErrRoomNotFound.
	FindByID(ctx context.Context, id string) (*domain.Room, error)

	// FindByPairKey loads the private room for a canonical pair key.
	FindByPairKey(ctx context.Context, pairKey string) (*domain.Room, error)

	// Create inserts the room and its participants in one transaction.
	// A pair key clash returns ErrDuplicateEntry.
	Create(ctx context.Context, room *domain.Room) error

	// AddParticipants adds users to a room, ignoring those already present.
	AddParticipants(ctx context.Context, roomID string, userIDs []string) error

	// ListForUser returns the live rooms userID participates in, latest activity first.
	ListForUser(ctx context.Context, userID string) ([]domain.Room, error)

	// SoftDelete hides the room from every read path until Purge runs.
	SoftDelete(ctx context.Context, id string) error

	// Purge hard-deletes the room, its participants, messages and receipts.
	Purge(ctx context.Context, id string) error
}
