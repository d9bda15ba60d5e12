// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// User is an account row.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	IsVerified     bool      `json:"is_verified"`
	IsAdmin        bool      `json:"is_admin"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const userColumns = "id, username, email, hashed_password, is_active, is_verified, is_admin, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.IsActive, &u.IsVerified, &u.IsAdmin, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// CreateUser inserts a new account and returns it with its assigned ID.
func (s *Store) CreateUser(ctx context.Context, u *User) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, hashed_password, is_active, is_verified, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.HashedPassword, u.IsActive, u.IsVerified, u.IsAdmin, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert user id: %w", err)
	}
	out := *u
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

// GetUser fetches one account by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// GetUserByUsername fetches one account by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUser(row)
}

// GetUserByEmail fetches one account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	return scanUser(row)
}

// IsUserActive reports whether the user exists, is active and verified.
// The chat path calls this before accepting a receiver.
func (s *Store) IsUserActive(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM users WHERE id = ? AND is_active = 1 AND is_verified = 1", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query user active: %w", err)
	}
	return n > 0, nil
}

// SetUserVerified flips the email-verification flag.
func (s *Store) SetUserVerified(ctx context.Context, id int64, verified bool) error {
	return s.updateUserFlag(ctx, id, "is_verified", verified)
}

// SetUserActive flips the active flag (operator action).
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	return s.updateUserFlag(ctx, id, "is_active", active)
}

// SetUserAdmin grants or revokes operator rights.
func (s *Store) SetUserAdmin(ctx context.Context, id int64, admin bool) error {
	return s.updateUserFlag(ctx, id, "is_admin", admin)
}

func (s *Store) updateUserFlag(ctx context.Context, id int64, column string, value bool) error {
	// column is always a compile-time constant, never user input.
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET "+column+" = ?, updated_at = ? WHERE id = ?",
		value, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update user %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user %s: %w", column, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns accounts, optionally restricted to active ones.
func (s *Store) ListUsers(ctx context.Context, activeOnly bool, limit, offset int) ([]*User, error) {
	query := "SELECT " + userColumns + " FROM users"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
