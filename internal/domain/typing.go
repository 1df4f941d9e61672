package domain

import "time"

// TypingState is the ephemeral per room × user typing flag. Last write wins.
type TypingState struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IsTyping    bool      `json:"is_typing"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Typist is one entry of the "currently typing" set shown to viewers.
type Typist struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}
