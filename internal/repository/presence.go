package repository

import (
	"context"
	"time"

	"github.com/nuhaa333/chat-app/internal/domain"
)

// PresenceRepository holds presence state and per-session leases, usually in Redis.
type PresenceRepository interface {
	// Get returns the stored state; an unknown user is offline with a zero LastChanged.
	Get(ctx context.Context, userID string) (domain.PresenceState, error)

	// SetOnline records a lease for sessionID with the given ttl and marks the
	// user online. wasOnline reports the state before the call.
	SetOnline(ctx context.Context, userID, sessionID string, ttl time.Duration, at time.Time) (wasOnline bool, err error)

	// RefreshLease extends the session lease.
	RefreshLease(ctx context.Context, userID, sessionID string, ttl time.Duration) error

	// ReleaseLease removes the session lease and, if no lease of the user is
	// left, marks the user offline. wentOffline reports that transition.
	ReleaseLease(ctx context.Context, userID, sessionID string, at time.Time) (wentOffline bool, err error)

	// OnlineUsers lists users currently recorded as online.
	OnlineUsers(ctx context.Context) ([]string, error)

	// HasLease reports whether any live lease exists for the user.
	HasLease(ctx context.Context, userID string) (bool, error)

	// SetOffline marks the user offline if still online. changed reports the transition.
	SetOffline(ctx context.Context, userID string, at time.Time) (changed bool, err error)
}
