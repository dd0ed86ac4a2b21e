package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-core/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, chat_id, sender_id, content, media, is_read, is_deleted, retention_policy, auto_delete_at, created_at, updated_at`

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListChatMessages(ctx context.Context, chatID, limit int, before *time.Time) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID, readerID int) (bool, error)
	UpdateContent(ctx context.Context, messageID, senderID int, content string) (models.Message, error)
	SoftDelete(ctx context.Context, messageID, senderID int) error
	ExpireMessage(ctx context.Context, messageID int) (models.Message, error)
	ListPendingExpiries(ctx context.Context, now time.Time) ([]models.Message, error)
	ListExpiredBatch(ctx context.Context, now time.Time, limit int) ([]models.Message, error)
	ExpireBatch(ctx context.Context, messageIDs []int) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message with its precomputed expiry.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (chat_id, sender_id, content, media, retention_policy, auto_delete_at)
         VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		msg.ChatID, msg.SenderID, msg.Content, msg.Media, msg.RetentionPolicy, msg.AutoDeleteAt).
		StructScan(&stored)
	return stored, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListChatMessages returns a newest-first page of non-deleted messages,
// optionally before a timestamp cursor. Keyset pagination keeps pages stable
// under concurrent inserts.
func (r *MessageRepo) ListChatMessages(ctx context.Context, chatID, limit int, before *time.Time) ([]models.Message, error) {
	var msgs []models.Message
	var err error
	if before != nil {
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT `+messageColumns+` FROM messages
             WHERE chat_id=$1 AND is_deleted = FALSE AND created_at < $2
             ORDER BY created_at DESC LIMIT $3`, chatID, *before, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT `+messageColumns+` FROM messages
             WHERE chat_id=$1 AND is_deleted = FALSE
             ORDER BY created_at DESC LIMIT $2`, chatID, limit)
	}
	return msgs, err
}

// MarkRead transitions is_read for a message the reader did not send. Returns
// whether the row changed; re-marking an already-read message is a no-op.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID, readerID int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE, updated_at = NOW()
         WHERE id=$1 AND sender_id <> $2 AND is_read = FALSE AND is_deleted = FALSE`,
		messageID, readerID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateContent edits a message; only the sender's own live messages qualify.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID, senderID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$3, updated_at=NOW()
         WHERE id=$1 AND sender_id=$2 AND is_deleted = FALSE RETURNING `+messageColumns,
		messageID, senderID, content).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SoftDelete tombstones a message on behalf of its sender and clears media.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, senderID int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET content=$3, media='[]', is_deleted = TRUE, auto_delete_at = NULL, updated_at = NOW()
         WHERE id=$1 AND sender_id=$2 AND is_deleted = FALSE`,
		messageID, senderID, models.DeletedMessageText)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ExpireMessage tombstones a message regardless of sender, for retention
// enforcement. An already-deleted message yields ErrMessageNotFound, which
// callers treat as benign.
func (r *MessageRepo) ExpireMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$2, media='[]', is_deleted = TRUE, auto_delete_at = NULL, updated_at = NOW()
         WHERE id=$1 AND is_deleted = FALSE RETURNING `+messageColumns,
		messageID, models.DeletedMessageText).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListPendingExpiries returns live messages whose expiry is still in the
// future, for timer recovery at startup. The auto_delete_at column, not any
// in-memory timer map, is authoritative.
func (r *MessageRepo) ListPendingExpiries(ctx context.Context, now time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
         WHERE auto_delete_at IS NOT NULL AND auto_delete_at > $1 AND is_deleted = FALSE`, now)
	return msgs, err
}

// ListExpiredBatch returns a bounded batch of expired-but-undeleted messages
// for the reaper sweep.
func (r *MessageRepo) ListExpiredBatch(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
         WHERE auto_delete_at IS NOT NULL AND auto_delete_at <= $1 AND is_deleted = FALSE
         ORDER BY auto_delete_at ASC LIMIT $2`, now, limit)
	return msgs, err
}

// ExpireBatch tombstones a set of messages in one statement.
func (r *MessageRepo) ExpireBatch(ctx context.Context, messageIDs []int) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET content=$2, media='[]', is_deleted = TRUE, auto_delete_at = NULL, updated_at = NOW()
         WHERE id = ANY($1) AND is_deleted = FALSE`,
		pq.Array(messageIDs), models.DeletedMessageText)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
