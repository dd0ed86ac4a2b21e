package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// DeletedMessageText replaces the content of soft-deleted messages.
const DeletedMessageText = "This message was deleted"

// MediaItem is a single ordered attachment on a message.
type MediaItem struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Position int    `json:"position"`
}

// MediaList is stored as a JSONB column.
type MediaList []MediaItem

// Value implements driver.Valuer.
func (m MediaList) Value() (driver.Value, error) {
	if len(m) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *MediaList) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("media list: unsupported scan source")
	}
	return json.Unmarshal(b, m)
}

// Message represents a chat message. Deleted messages keep their row with
// tombstoned content so ordering history survives. A nil AutoDeleteAt means
// the message lives forever unless its policy is after_read.
type Message struct {
	ID              int        `db:"id" json:"id"`
	ChatID          int        `db:"chat_id" json:"chat_id"`
	SenderID        int        `db:"sender_id" json:"sender_id"`
	Content         string     `db:"content" json:"content"`
	Media           MediaList  `db:"media" json:"media,omitempty"`
	IsRead          bool       `db:"is_read" json:"is_read"`
	IsDeleted       bool       `db:"is_deleted" json:"is_deleted"`
	RetentionPolicy string     `db:"retention_policy" json:"retention_policy"`
	AutoDeleteAt    *time.Time `db:"auto_delete_at" json:"auto_delete_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}
