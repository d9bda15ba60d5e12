// SPDX-License-Identifier: MIT

// Package store provides SQLite persistence for users, chat messages and
// service descriptors.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Store wraps the database handle and owns the schema.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite connection pool and runs migrations.
// WAL mode and busy_timeout go into the DSN so every pooled connection
// picks them up.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate failed: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_verified INTEGER NOT NULL DEFAULT 0,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_username_active ON users(username, is_active);
	CREATE INDEX IF NOT EXISTS idx_users_email_active ON users(email, is_active);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		receiver_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_conversation_timestamp ON chat_messages(sender_id, receiver_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_chat_receiver_unread ON chat_messages(receiver_id, is_read);

	CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		api_base_url TEXT NOT NULL,
		api_endpoint TEXT NOT NULL,
		http_method TEXT NOT NULL DEFAULT 'POST',
		request_template TEXT NOT NULL,
		response_mapping TEXT,
		headers_template TEXT,
		encrypted_api_key TEXT,
		api_key_header TEXT,
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		retry_attempts INTEGER NOT NULL DEFAULT 3,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_by INTEGER NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_services_name_active ON services(name, is_active);
	CREATE INDEX IF NOT EXISTS idx_services_type_active ON services(type, is_active);
	`
	_, err := s.db.Exec(schema)
	return err
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
