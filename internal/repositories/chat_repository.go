package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-core/internal/models"
)

var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrParticipantNotFound = errors.New("participant not found")
)

const chatColumns = `id, is_group, name, description, avatar_url, creator_id, delete_at, created_at`

// ChatRepository abstracts chat and participant persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, creatorID int, participantIDs []int, isGroup bool, name *string) (models.Chat, error)
	FindDirectChat(ctx context.Context, userID, otherID int) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID int) (bool, error)
	GetParticipant(ctx context.Context, chatID, userID int) (models.ChatParticipant, error)
	GetParticipants(ctx context.Context, chatID int) ([]models.ChatParticipant, error)
	AddParticipants(ctx context.Context, chatID int, userIDs []int, role string) error
	RemoveParticipant(ctx context.Context, chatID, userID int) error
	UpdateLastRead(ctx context.Context, chatID, userID int, at time.Time) error
	SetMuted(ctx context.Context, chatID, userID int, muted bool) error
	ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error)
	ScheduleDeletion(ctx context.Context, chatID int, at time.Time) error
	DeleteChat(ctx context.Context, chatID int) error
	ListChatsPendingDeletion(ctx context.Context) ([]models.Chat, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// CreateChat inserts the chat row and one participant row per unique user id.
// The creator joins as admin, everyone else as member.
func (r *ChatRepo) CreateChat(ctx context.Context, creatorID int, participantIDs []int, isGroup bool, name *string) (models.Chat, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer tx.Rollback()

	var chat models.Chat
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO chats (is_group, name, creator_id) VALUES ($1, $2, $3) RETURNING `+chatColumns,
		isGroup, name, creatorID).StructScan(&chat)
	if err != nil {
		return models.Chat{}, err
	}

	seen := map[int]struct{}{creatorID: {}}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_participants (chat_id, user_id, role) VALUES ($1, $2, $3)`,
		chat.ID, creatorID, models.RoleAdmin); err != nil {
		return models.Chat{}, err
	}
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role) VALUES ($1, $2, $3)`,
			chat.ID, id, models.RoleMember); err != nil {
			return models.Chat{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// FindDirectChat locates the non-group chat whose participant set is exactly
// {userID, otherID}. Candidate rows are post-filtered against the loaded
// participant list; merely containing either user is not enough. A self-chat
// (userID == otherID) has a single participant row.
func (r *ChatRepo) FindDirectChat(ctx context.Context, userID, otherID int) (models.Chat, error) {
	expected := 2
	if userID == otherID {
		expected = 1
	}

	query := `SELECT c.id, c.is_group, c.name, c.description, c.avatar_url, c.creator_id, c.delete_at, c.created_at
        FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id
        WHERE c.is_group = FALSE AND p.user_id IN ($1, $2)
        GROUP BY c.id
        HAVING COUNT(DISTINCT p.user_id) = $3`

	var candidates []models.Chat
	if err := r.db.SelectContext(ctx, &candidates, query, userID, otherID, expected); err != nil {
		return models.Chat{}, err
	}

	for _, chat := range candidates {
		participants, err := r.GetParticipants(ctx, chat.ID)
		if err != nil {
			return models.Chat{}, err
		}
		if matchesExactPair(participants, userID, otherID, expected) {
			return chat, nil
		}
	}
	return models.Chat{}, ErrChatNotFound
}

// matchesExactPair reports whether the participant set is exactly the
// requested pair. Chats that merely contain both users among others do not
// qualify.
func matchesExactPair(participants []models.ChatParticipant, userID, otherID, expected int) bool {
	if len(participants) != expected {
		return false
	}
	matched := 0
	for _, p := range participants {
		if p.UserID == userID || p.UserID == otherID {
			matched++
		}
	}
	return matched == expected
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// GetParticipant fetches a single membership row.
func (r *ChatRepo) GetParticipant(ctx context.Context, chatID, userID int) (models.ChatParticipant, error) {
	var p models.ChatParticipant
	err := r.db.GetContext(ctx, &p,
		`SELECT chat_id, user_id, role, joined_at, last_read_at, muted FROM chat_participants WHERE chat_id=$1 AND user_id=$2`,
		chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatParticipant{}, ErrParticipantNotFound
	}
	return p, err
}

// GetParticipants lists all members of a chat.
func (r *ChatRepo) GetParticipants(ctx context.Context, chatID int) ([]models.ChatParticipant, error) {
	var participants []models.ChatParticipant
	err := r.db.SelectContext(ctx, &participants,
		`SELECT chat_id, user_id, role, joined_at, last_read_at, muted FROM chat_participants WHERE chat_id=$1 ORDER BY joined_at ASC`,
		chatID)
	return participants, err
}

// AddParticipants inserts all members in one transaction; either every row is
// added or none are.
func (r *ChatRepo) AddParticipants(ctx context.Context, chatID int, userIDs []int, role string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range userIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role) VALUES ($1, $2, $3)
             ON CONFLICT (chat_id, user_id) DO NOTHING`,
			chatID, id, role); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RemoveParticipant deletes a membership row.
func (r *ChatRepo) RemoveParticipant(ctx context.Context, chatID, userID int) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// UpdateLastRead advances the participant's read high-water mark. The mark
// never moves backwards.
func (r *ChatRepo) UpdateLastRead(ctx context.Context, chatID, userID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_participants SET last_read_at=$3
         WHERE chat_id=$1 AND user_id=$2 AND (last_read_at IS NULL OR last_read_at < $3)`,
		chatID, userID, at)
	return err
}

// SetMuted flips the participant's mute flag.
func (r *ChatRepo) SetMuted(ctx context.Context, chatID, userID int, muted bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chat_participants SET muted=$3 WHERE chat_id=$1 AND user_id=$2`, chatID, userID, muted)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// ListChats returns the user's chats with unread counts derived from the
// last_read mark.
func (r *ChatRepo) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	query := `SELECT c.id, c.is_group, c.name, c.created_at, p.muted,
        (SELECT COUNT(*) FROM messages m
            WHERE m.chat_id = c.id AND m.is_deleted = FALSE AND m.sender_id <> $1
            AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)) AS unread_count
        FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id AND p.user_id = $1
        ORDER BY c.created_at DESC`
	var summaries []models.ChatSummary
	err := r.db.SelectContext(ctx, &summaries, query, userID)
	return summaries, err
}

// ScheduleDeletion stores the chat-level deletion timestamp.
func (r *ChatRepo) ScheduleDeletion(ctx context.Context, chatID int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET delete_at=$2 WHERE id=$1`, chatID, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat removes the chat; participants and messages cascade.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// ListChatsPendingDeletion returns chats with a scheduled deletion, for timer
// recovery at startup.
func (r *ChatRepo) ListChatsPendingDeletion(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.SelectContext(ctx, &chats,
		`SELECT `+chatColumns+` FROM chats WHERE delete_at IS NOT NULL`)
	return chats, err
}
