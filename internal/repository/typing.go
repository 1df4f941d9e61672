package repository

import (
	"context"

	"github.com/nuhaa333/chat-app/internal/domain"
)

// TypingRepository stores ephemeral typing flags per room.
type TypingRepository interface {
	// Set upserts the state; last write wins.
	Set(ctx context.Context, state domain.TypingState) error
	// List returns every stored state of the room, typing or not.
	List(ctx context.Context, roomID string) ([]domain.TypingState, error)
	// Remove drops a single user's entry.
	Remove(ctx context.Context, roomID, userID string) error
	// Clear drops every entry of the room.
	Clear(ctx context.Context, roomID string) error
}
