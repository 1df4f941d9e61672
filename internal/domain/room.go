package domain

import (
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Room is a conversation scope. Private rooms have exactly two participants and
// a PairKey; groups have a name and may gain members over time.
type Room struct {
	ID        string  `gorm:"primaryKey;size:36" json:"id"`
	IsGroup   bool    `gorm:"not null;default:false" json:"is_group"`
	Name      string  `gorm:"size:100" json:"name,omitempty"`
	ImageURL  string  `gorm:"size:512" json:"image_url,omitempty"`
	CreatedBy string  `gorm:"size:36;index" json:"created_by"`
	PairKey   *string `gorm:"size:80;uniqueIndex:idx_pair_key" json:"-"` // NULL for groups

	// Summary fields kept on the room so list screens do not scan messages.
	LastSeq         uint64    `gorm:"not null;default:0" json:"last_seq"`
	LastMessageAt   time.Time `gorm:"index" json:"last_message_at"`
	LastMessageText string    `gorm:"type:text" json:"last_message"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Participants []RoomParticipant `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

// RoomParticipant links a user to a room.
type RoomParticipant struct {
	RoomID   string    `gorm:"primaryKey;size:36" json:"room_id"`
	UserID   string    `gorm:"primaryKey;size:36;index" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// PairKey is the canonical key of an unordered pair of users.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// ParticipantIDs returns the participant ids in a stable order.
func (r *Room) ParticipantIDs() []string {
	ids := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.UserID)
	}
	sort.Strings(ids)
	return ids
}

// HasParticipant reports whether userID belongs to the room.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant of a private room as seen by viewerID.
func (r *Room) Peer(viewerID string) string {
	if r.IsGroup {
		return ""
	}
	for _, p := range r.Participants {
		if p.UserID != viewerID {
			return p.UserID
		}
	}
	return ""
}

// RoomSummary is a room as shown in a user's room list.
type RoomSummary struct {
	Room         *Room    `json:"room"`
	Participants []string `json:"participants"`
	Peer         string   `json:"peer,omitempty"`
	Unread       int64    `json:"unread"`
}
