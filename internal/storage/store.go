package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/raine/reellytics-gateway/internal/auth"
)

// StoredSession is a persisted browser session and its token set.
type StoredSession struct {
	ID          string
	Tokens      auth.TokenSet
	CreatedAt   time.Time
	LastUpdated time.Time
}

// UserTokens is a token set issued to a user, looked up by its access token
// when the chat API authorizes a request.
type UserTokens struct {
	Email                string
	Name                 string
	Image                string
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
	UpdatedAt            time.Time
}

// SessionStore defines the interface for session persistence.
type SessionStore interface {
	// Get returns nil, nil if the session doesn't exist.
	Get(ctx context.Context, id string) (*StoredSession, error)
	Save(ctx context.Context, session *StoredSession) error
	Delete(ctx context.Context, id string) error
	// DeleteOlderThan removes sessions not updated since cutoff and returns
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// UserTokenStore persists issued tokens by access token.
type UserTokenStore interface {
	UpsertUserTokens(ctx context.Context, t UserTokens) error
	// FindByAccessToken returns nil, nil if no user holds token.
	FindByAccessToken(ctx context.Context, token string) (*UserTokens, error)
}

// SQLiteStore implements SessionStore, UserTokenStore and ChatLogStore using
// SQLite with encrypted tokens.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based store.
// The dbPath is the path to the SQLite database file.
// The encryptionKey is used to encrypt/decrypt token data.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// WAL and busy timeout so the gateway and the chat API can share the file
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", dbPath).Msg("failed to restrict database file permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	sessionsQuery := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		encrypted_tokens TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(sessionsQuery); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	accessTokensQuery := `
	CREATE TABLE IF NOT EXISTS access_tokens (
		access_token_hash TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		encrypted_tokens TEXT NOT NULL,
		access_token_expires_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(accessTokensQuery); err != nil {
		return fmt.Errorf("failed to create access_tokens table: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_access_tokens_email ON access_tokens(email, access_token_expires_at)"); err != nil {
		return fmt.Errorf("failed to create access_tokens index: %w", err)
	}

	chatMessagesQuery := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		session_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(chatMessagesQuery); err != nil {
		return fmt.Errorf("failed to create chat_messages table: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(email, session_id, created_at)"); err != nil {
		return fmt.Errorf("failed to create chat_messages index: %w", err)
	}

	return nil
}

// Get retrieves a session by id.
// Returns nil, nil if the session doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encryptedTokens string
	var createdAt, lastUpdated time.Time

	err := s.db.QueryRowContext(ctx,
		"SELECT encrypted_tokens, created_at, last_updated FROM sessions WHERE id = ?",
		id,
	).Scan(&encryptedTokens, &createdAt, &lastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	var tokens auth.TokenSet
	if err := s.decryptJSON(encryptedTokens, &tokens); err != nil {
		return nil, err
	}

	return &StoredSession{
		ID:          id,
		Tokens:      tokens,
		CreatedAt:   createdAt,
		LastUpdated: lastUpdated,
	}, nil
}

// Save stores or updates a session.
func (s *SQLiteStore) Save(ctx context.Context, session *StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encryptedTokens, err := s.encryptJSON(session.Tokens)
	if err != nil {
		return err
	}

	session.LastUpdated = time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.LastUpdated
	}
	session.CreatedAt = session.CreatedAt.UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, email, encrypted_tokens, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			encrypted_tokens = excluded.encrypted_tokens,
			last_updated = excluded.last_updated
	`, session.ID, session.Tokens.User.Email, encryptedTokens, session.CreatedAt, session.LastUpdated)

	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Delete removes a session by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE last_updated < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// userTokenSecrets is the encrypted part of an access_tokens row.
type userTokenSecrets struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// UpsertUserTokens records a token set issued to a user. Every access token
// stays valid until it expires, so sessions of the same user in different
// browsers don't revoke each other. The user's expired tokens are pruned.
func (s *SQLiteStore) UpsertUserTokens(ctx context.Context, t UserTokens) error {
	if t.Email == "" {
		return fmt.Errorf("user tokens without email")
	}
	if t.AccessToken == "" {
		return fmt.Errorf("user tokens without access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := s.encryptJSON(userTokenSecrets{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_tokens (access_token_hash, email, name, image, encrypted_tokens, access_token_expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(access_token_hash) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			image = excluded.image,
			encrypted_tokens = excluded.encrypted_tokens,
			access_token_expires_at = excluded.access_token_expires_at,
			updated_at = excluded.updated_at
	`, hashToken(t.AccessToken), t.Email, t.Name, t.Image, encrypted, t.AccessTokenExpiresAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("failed to upsert user tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM access_tokens WHERE email = ? AND access_token_expires_at <= ?", t.Email, now)
	if err != nil {
		return fmt.Errorf("failed to prune expired user tokens: %w", err)
	}

	return tx.Commit()
}

// FindByAccessToken looks up the user an access token was issued to.
// Returns nil, nil if it is unknown.
func (s *SQLiteStore) FindByAccessToken(ctx context.Context, token string) (*UserTokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t UserTokens
	var encrypted string
	err := s.db.QueryRowContext(ctx, `
		SELECT email, name, image, encrypted_tokens, access_token_expires_at, updated_at
		FROM access_tokens WHERE access_token_hash = ?
	`, hashToken(token)).Scan(&t.Email, &t.Name, &t.Image, &encrypted, &t.AccessTokenExpiresAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user tokens: %w", err)
	}

	var secrets userTokenSecrets
	if err := s.decryptJSON(encrypted, &secrets); err != nil {
		return nil, err
	}
	t.AccessToken = secrets.AccessToken
	t.RefreshToken = secrets.RefreshToken

	return &t, nil
}

func (s *SQLiteStore) encryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tokens: %w", err)
	}
	encrypted, err := Encrypt(data, s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt tokens: %w", err)
	}
	return encrypted, nil
}

func (s *SQLiteStore) decryptJSON(encoded string, v any) error {
	data, err := Decrypt(encoded, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt tokens: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal tokens: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
