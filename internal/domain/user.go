// Package domain holds the chat entities shared by services and stores.
package domain

import "time"

// User is a registered identity. ID is an opaque UUID string that never changes.
type User struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	DisplayName string     `gorm:"size:100;not null" json:"display_name"`
	Email       string     `gorm:"type:varchar(191);uniqueIndex:idx_email;not null" json:"email"`
	Password    string     `gorm:"type:text;not null" json:"-"` // bcrypt hash
	AvatarURL   string     `gorm:"size:512" json:"avatar_url"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Identity is what the identity provider hands out for an authenticated user.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
}

// Identity projects the user onto its public identity.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email, AvatarURL: u.AvatarURL}
}

// Name returns the display name, falling back to the email like the web client does.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
