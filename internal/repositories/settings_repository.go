package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-core/internal/models"
)

// SettingsRepository reads privacy settings and the friendship graph. Both are
// owned by other services; this core only consults them.
type SettingsRepository interface {
	GetSettings(ctx context.Context, userID int) (models.PrivacySettings, error)
	AreFriends(ctx context.Context, userID, otherID int) (bool, error)
	HaveMutualFriends(ctx context.Context, userID, otherID int) (bool, error)
	ListFriends(ctx context.Context, userID int) ([]int, error)
}

// SettingsRepo is a sqlx implementation of SettingsRepository.
type SettingsRepo struct {
	db *sqlx.DB
}

// NewSettingsRepo constructs a SettingsRepo.
func NewSettingsRepo(db *sqlx.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// GetSettings returns the user's privacy settings. A missing row resolves to
// defaults here, at the read boundary, so callers always see a fully
// populated struct.
func (r *SettingsRepo) GetSettings(ctx context.Context, userID int) (models.PrivacySettings, error) {
	var settings models.PrivacySettings
	err := r.db.GetContext(ctx, &settings,
		`SELECT user_id, allow_messages_from, retention_period, allow_read_receipts,
                allow_forwarding, show_online_status, show_last_active, profile_visibility
         FROM user_settings WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultPrivacySettings(userID), nil
	}
	return settings, err
}

// AreFriends reports whether the two users are friends.
func (r *SettingsRepo) AreFriends(ctx context.Context, userID, otherID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM friendships
         WHERE (user_id=$1 AND friend_id=$2) OR (user_id=$2 AND friend_id=$1))`,
		userID, otherID)
	return exists, err
}

// HaveMutualFriends reports whether the two users share at least one friend.
func (r *SettingsRepo) HaveMutualFriends(ctx context.Context, userID, otherID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(
            SELECT 1 FROM friendships f1
            JOIN friendships f2 ON f1.friend_id = f2.friend_id
            WHERE f1.user_id=$1 AND f2.user_id=$2 AND f1.friend_id NOT IN ($1, $2))`,
		userID, otherID)
	return exists, err
}

// ListFriends returns the user's friend ids.
func (r *SettingsRepo) ListFriends(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT friend_id FROM friendships WHERE user_id=$1
         UNION
         SELECT user_id FROM friendships WHERE friend_id=$1`, userID)
	return ids, err
}
