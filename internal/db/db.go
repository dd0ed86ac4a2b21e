package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Msg("database migrations applied")
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chats (
            id SERIAL PRIMARY KEY,
            is_group BOOLEAN NOT NULL DEFAULT FALSE,
            name TEXT,
            description TEXT,
            avatar_url TEXT,
            creator_id INT,
            delete_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS chat_participants (
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member',
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_read_at TIMESTAMPTZ,
            muted BOOLEAN NOT NULL DEFAULT FALSE,
            PRIMARY KEY(chat_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            media JSONB NOT NULL DEFAULT '[]',
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
            retention_policy TEXT NOT NULL DEFAULT 'forever',
            auto_delete_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created
            ON messages (chat_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pending_expiry
            ON messages (auto_delete_at) WHERE auto_delete_at IS NOT NULL AND is_deleted = FALSE;`,
		`CREATE TABLE IF NOT EXISTS user_settings (
            user_id INT PRIMARY KEY,
            allow_messages_from TEXT NOT NULL DEFAULT 'everyone',
            retention_period TEXT NOT NULL DEFAULT 'forever',
            allow_read_receipts BOOLEAN NOT NULL DEFAULT TRUE,
            allow_forwarding BOOLEAN NOT NULL DEFAULT TRUE,
            show_online_status BOOLEAN NOT NULL DEFAULT TRUE,
            show_last_active BOOLEAN NOT NULL DEFAULT TRUE,
            profile_visibility TEXT NOT NULL DEFAULT 'public'
        );`,
		`CREATE TABLE IF NOT EXISTS friendships (
            user_id INT NOT NULL,
            friend_id INT NOT NULL,
            PRIMARY KEY(user_id, friend_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
