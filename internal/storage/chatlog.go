package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// ChatMessage is one message of a chat session.
type ChatMessage struct {
	ID        string
	SessionID string
	Sender    string
	Text      string
	CreatedAt time.Time
}

// ChatSession summarizes a user's chat session.
type ChatSession struct {
	ID            string
	Title         string
	MessageCount  int
	LastMessageAt time.Time
}

// ChatLogStore persists chat messages per user email and chat session.
type ChatLogStore interface {
	AppendMessage(ctx context.Context, email string, msg *ChatMessage) error
	ListChatSessions(ctx context.Context, email string) ([]ChatSession, error)
	ListMessages(ctx context.Context, email, sessionID string) ([]ChatMessage, error)
}

// AppendMessage stores msg, filling in its ID and timestamp when unset.
func (s *SQLiteStore) AppendMessage(ctx context.Context, email string, msg *ChatMessage) error {
	if email == "" || msg.SessionID == "" {
		return fmt.Errorf("chat message requires email and session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, email, session_id, sender, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, email, msg.SessionID, msg.Sender, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// ListChatSessions returns the user's chat sessions, most recent first. The
// title is the first user message of the session.
func (s *SQLiteStore) ListChatSessions(ctx context.Context, email string) ([]ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id,
			COALESCE((SELECT f.text FROM chat_messages f
				WHERE f.email = m.email AND f.session_id = m.session_id AND f.sender = ?
				ORDER BY f.created_at LIMIT 1), ''),
			COUNT(*),
			MAX(m.created_at)
		FROM chat_messages m
		WHERE m.email = ?
		GROUP BY m.session_id
		ORDER BY MAX(m.created_at) DESC
	`, SenderUser, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ChatSession
	for rows.Next() {
		var cs ChatSession
		var last string
		if err := rows.Scan(&cs.ID, &cs.Title, &cs.MessageCount, &last); err != nil {
			return nil, fmt.Errorf("failed to scan chat session: %w", err)
		}
		cs.LastMessageAt, err = parseSQLiteTime(last)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, cs)
	}

	return sessions, rows.Err()
}

// ListMessages returns the messages of one chat session in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, email, sessionID string) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, text, created_at
		FROM chat_messages
		WHERE email = ? AND session_id = ?
		ORDER BY created_at, rowid
	`, email, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// ListAllMessages returns every message of the user across sessions, oldest first.
func (s *SQLiteStore) ListAllMessages(ctx context.Context, email string, limit int) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, text, created_at FROM (
			SELECT id, session_id, sender, text, created_at, rowid AS r
			FROM chat_messages WHERE email = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at, r
	`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Aggregates lose the column type, so MAX(created_at) comes back as text.
func parseSQLiteTime(v string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", v)
}
