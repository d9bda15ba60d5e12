// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Message content bounds, enforced at creation.
const (
	MinMessageLen = 1
	MaxMessageLen = 2000
)

// ErrInvalidContent is returned when message content violates the length or
// blankness rules.
var ErrInvalidContent = errors.New("store: message content must be 1-2000 characters and not blank")

// Message is one chat message row. Mutated only to flip IsRead.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"is_read"`
	Timestamp  time.Time `json:"timestamp"`
}

// Conversation summarizes the latest exchange with one peer.
type Conversation struct {
	OtherUserID int64     `json:"other_user_id"`
	LastMessage string    `json:"last_message"`
	Timestamp   time.Time `json:"timestamp"`
	IsRead      bool      `json:"is_read"`
}

const messageColumns = "id, sender_id, receiver_id, content, is_read, timestamp"

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var ts string
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.IsRead, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Timestamp = parseTime(ts)
	return &m, nil
}

// CreateMessage persists a new message with a server-assigned timestamp and
// is_read=false. Content length rules are enforced here; whether sender may
// equal receiver is the caller's policy decision.
func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*Message, error) {
	length := len([]rune(content))
	if length < MinMessageLen || length > MaxMessageLen || isBlank(content) {
		return nil, ErrInvalidContent
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (sender_id, receiver_id, content, is_read, timestamp)
		VALUES (?, ?, ?, 0, ?)`,
		senderID, receiverID, content, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert message id: %w", err)
	}
	return &Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		IsRead:     false,
		Timestamp:  now,
	}, nil
}

// GetMessage fetches one message by ID.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM chat_messages WHERE id = ?", id)
	return scanMessage(row)
}

// GetHistory returns the conversation between two users, newest first.
func (s *Store) GetHistory(ctx context.Context, userID, otherUserID int64, limit, offset int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		userID, otherUserID, otherUserID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectMessages(rows)
}

// GetConversations returns the latest message per peer for a user.
func (s *Store) GetConversations(ctx context.Context, userID int64, limit int) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE id IN (
			SELECT MAX(id) FROM chat_messages
			WHERE sender_id = ? OR receiver_id = ?
			GROUP BY CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
		)
		ORDER BY timestamp DESC LIMIT ?`,
		userID, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*Conversation, 0, len(msgs))
	for _, m := range msgs {
		other := m.ReceiverID
		if m.SenderID != userID {
			other = m.SenderID
		}
		out = append(out, &Conversation{
			OtherUserID: other,
			LastMessage: m.Content,
			Timestamp:   m.Timestamp,
			IsRead:      m.IsRead,
		})
	}
	return out, nil
}

// MarkMessageRead flips one message's read flag, scoped to its receiver.
// Returns the message (with the sender ID the receipt goes to) or
// ErrNotFound if it does not exist, belongs to someone else, or was already
// read.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, receiverID int64) (*Message, error) {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ReceiverID != receiverID || m.IsRead {
		return nil, ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE chat_messages SET is_read = 1 WHERE id = ?", messageID); err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}
	m.IsRead = true
	return m, nil
}

// MarkConversationRead flips every unread message from sender to receiver
// and returns the affected message IDs.
func (s *Store) MarkConversationRead(ctx context.Context, senderID, receiverID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM chat_messages
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0
		ORDER BY id`, senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("query unread: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET is_read = 1
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0`,
		senderID, receiverID); err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}
	return ids, nil
}

// UnreadCount returns the number of unread messages addressed to a user.
func (s *Store) UnreadCount(ctx context.Context, receiverID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM chat_messages WHERE receiver_id = ? AND is_read = 0", receiverID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query unread count: %w", err)
	}
	return n, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
