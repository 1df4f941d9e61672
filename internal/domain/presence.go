package domain

import "time"

// PresenceStatus is the liveness of a user.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceState is owned by the user and outlives any room.
type PresenceState struct {
	UserID      string         `json:"user_id"`
	State       PresenceStatus `json:"state"`
	LastChanged time.Time      `json:"last_changed"`
}

// Online reports whether the state is online.
func (p PresenceState) Online() bool { return p.State == PresenceOnline }
