package domain

import "time"

// Message is one entry of a room's log. Seq is assigned by the store and is
// strictly increasing per room; Timestamp never decreases with Seq.
type Message struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID      string    `gorm:"size:36;not null;uniqueIndex:idx_room_seq,priority:1;uniqueIndex:idx_room_client,priority:1" json:"room_id"`
	Seq         uint64    `gorm:"not null;uniqueIndex:idx_room_seq,priority:2" json:"seq"`
	SenderID    string    `gorm:"size:36;not null;index;uniqueIndex:idx_room_client,priority:2" json:"sender_id"`
	Text        string    `gorm:"type:text" json:"text"`
	MediaURL    string    `gorm:"size:1024" json:"media_url,omitempty"`
	MediaType   string    `gorm:"size:100" json:"media_type,omitempty"`
	ClientMsgID *string   `gorm:"size:64;uniqueIndex:idx_room_client,priority:3" json:"client_msg_id,omitempty"`
	Timestamp   time.Time `gorm:"column:sent_at;not null;index" json:"timestamp"`

	// Read is materialised from Receipts; it is not a column.
	Read     map[string]bool `gorm:"-" json:"read"`
	Receipts []ReadReceipt   `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
}

// ReadReceipt stores one entry of a message's read map.
type ReadReceipt struct {
	MessageID string     `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string     `gorm:"primaryKey;size:36;index:idx_receipt_unread,priority:2" json:"user_id"`
	RoomID    string     `gorm:"size:36;not null;index:idx_receipt_unread,priority:1" json:"room_id"`
	Read      bool       `gorm:"column:is_read;not null;default:false;index:idx_receipt_unread,priority:3" json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Media is an uploaded attachment reference. URL and Type travel together.
type Media struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// HasMedia reports whether the message carries an attachment.
func (m *Message) HasMedia() bool { return m.MediaURL != "" }

// FillRead rebuilds the Read map from the loaded receipts.
func (m *Message) FillRead() {
	m.Read = make(map[string]bool, len(m.Receipts))
	for _, r := range m.Receipts {
		m.Read[r.UserID] = r.Read
	}
}

// ReadEvent reports that a reader flipped read flags in a room.
type ReadEvent struct {
	RoomID     string   `json:"room_id"`
	ReaderID   string   `json:"reader_id"`
	MessageIDs []string `json:"message_ids"`
}
