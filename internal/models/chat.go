package models

import "time"

// Participant roles within a chat.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// Chat represents a conversation. A non-group chat has exactly two
// participants and is unique per unordered pair of users.
type Chat struct {
	ID          int        `db:"id" json:"id"`
	IsGroup     bool       `db:"is_group" json:"is_group"`
	Name        *string    `db:"name" json:"name,omitempty"`
	Description *string    `db:"description" json:"description,omitempty"`
	AvatarURL   *string    `db:"avatar_url" json:"avatar_url,omitempty"`
	CreatorID   *int       `db:"creator_id" json:"creator_id,omitempty"`
	DeleteAt    *time.Time `db:"delete_at" json:"delete_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// ChatParticipant is the (chat, user) membership row. LastReadAt is the
// high-water mark used for unread counts.
type ChatParticipant struct {
	ChatID     int        `db:"chat_id" json:"chat_id"`
	UserID     int        `db:"user_id" json:"user_id"`
	Role       string     `db:"role" json:"role"`
	JoinedAt   time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
	Muted      bool       `db:"muted" json:"muted"`
}

// ChatSummary provides an API-friendly view of a chat for a user.
type ChatSummary struct {
	ChatID      int       `db:"id" json:"chat_id"`
	IsGroup     bool      `db:"is_group" json:"is_group"`
	Name        *string   `db:"name" json:"name,omitempty"`
	UnreadCount int       `db:"unread_count" json:"unread_count"`
	Muted       bool      `db:"muted" json:"muted"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
