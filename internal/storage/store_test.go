package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/reellytics-gateway/internal/auth"
)

var testKey = []byte("test-key-32-bytes-long-ok-test!!")

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testKey)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testTokens() auth.TokenSet {
	return auth.TokenSet{
		AccessToken:          "A1",
		RefreshToken:         "R1",
		IDToken:              "ID1",
		AccessTokenExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		User:                 auth.User{Name: "Jane", Email: "jane@example.com"},
	}
}

func TestSQLiteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	session := &StoredSession{ID: "sid-1", Tokens: testTokens()}
	require.NoError(t, store.Save(ctx, session))
	assert.False(t, session.LastUpdated.IsZero())

	got, err = store.Get(ctx, "sid-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sid-1", got.ID)
	assert.True(t, testTokens().AccessTokenExpiresAt.Equal(got.Tokens.AccessTokenExpiresAt))
	got.Tokens.AccessTokenExpiresAt = testTokens().AccessTokenExpiresAt
	assert.Equal(t, testTokens(), got.Tokens)

	// Errors survive persistence so a flagged session stays flagged.
	session.Tokens.Error = auth.RefreshAccessTokenError
	require.NoError(t, store.Save(ctx, session))
	got, err = store.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, auth.RefreshAccessTokenError, got.Tokens.Error)

	require.NoError(t, store.Delete(ctx, "sid-1"))
	got, err = store.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_TokensEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Save(ctx, &StoredSession{ID: "sid-1", Tokens: testTokens()}))

	var raw string
	require.NoError(t, store.db.QueryRow("SELECT encrypted_tokens FROM sessions WHERE id = ?", "sid-1").Scan(&raw))
	assert.NotContains(t, raw, "R1")
	assert.NotContains(t, raw, "jane@example.com")
}

func TestSQLiteStore_WrongKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(path, testKey)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &StoredSession{ID: "sid-1", Tokens: testTokens()}))
	require.NoError(t, store.Close())

	other, err := NewSQLiteStore(path, []byte("another-key-32-bytes-long-test!!"))
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Get(ctx, "sid-1")
	assert.ErrorContains(t, err, "failed to decrypt tokens")
}

func TestSQLiteStore_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, &StoredSession{ID: "old", Tokens: testTokens()}))
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Save(ctx, &StoredSession{ID: "new", Tokens: testTokens()}))

	n, err := store.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)
	recent, err := store.Get(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, recent)
}

func TestSQLiteStore_UserTokens(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	found, err := store.FindByAccessToken(ctx, "A1")
	require.NoError(t, err)
	assert.Nil(t, found)

	expires := time.Now().Add(time.Hour).UTC()
	require.NoError(t, store.UpsertUserTokens(ctx, UserTokens{
		Email:                "jane@example.com",
		Name:                 "Jane",
		AccessToken:          "A1",
		RefreshToken:         "R1",
		AccessTokenExpiresAt: expires,
	}))

	found, err = store.FindByAccessToken(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "jane@example.com", found.Email)
	assert.Equal(t, "Jane", found.Name)
	assert.Equal(t, "A1", found.AccessToken)
	assert.Equal(t, "R1", found.RefreshToken)
	assert.WithinDuration(t, expires, found.AccessTokenExpiresAt, time.Millisecond)

	// A refresh or a sign-in from another browser adds a token for the same
	// user without revoking the earlier one.
	require.NoError(t, store.UpsertUserTokens(ctx, UserTokens{
		Email:                "jane@example.com",
		AccessToken:          "A2",
		AccessTokenExpiresAt: expires,
	}))
	for _, token := range []string{"A1", "A2"} {
		found, err = store.FindByAccessToken(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, found, token)
		assert.Equal(t, "jane@example.com", found.Email)
		assert.Equal(t, token, found.AccessToken)
	}

	assert.Error(t, store.UpsertUserTokens(ctx, UserTokens{AccessToken: "A3"}))
	assert.Error(t, store.UpsertUserTokens(ctx, UserTokens{Email: "jane@example.com"}))
}

func TestSQLiteStore_UserTokensPrunesExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpsertUserTokens(ctx, UserTokens{
		Email:                "jane@example.com",
		AccessToken:          "OLD",
		AccessTokenExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, store.UpsertUserTokens(ctx, UserTokens{
		Email:                "other@example.com",
		AccessToken:          "OTHER",
		AccessTokenExpiresAt: time.Now().Add(-time.Minute),
	}))

	require.NoError(t, store.UpsertUserTokens(ctx, UserTokens{
		Email:                "jane@example.com",
		AccessToken:          "NEW",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	}))

	found, err := store.FindByAccessToken(ctx, "OLD")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = store.FindByAccessToken(ctx, "NEW")
	require.NoError(t, err)
	assert.NotNil(t, found)

	// Only the signing-in user's tokens are pruned.
	found, err = store.FindByAccessToken(ctx, "OTHER")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestSQLiteStore_ChatLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msgs := []struct {
		session, sender, text string
		at                    time.Time
	}{
		{"s1", SenderUser, "first question", base},
		{"s1", SenderAssistant, "first answer", base.Add(time.Second)},
		{"s2", SenderUser, "second question", base.Add(time.Minute)},
		{"s2", SenderAssistant, "second answer", base.Add(time.Minute + time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, store.AppendMessage(ctx, "jane@example.com", &ChatMessage{
			SessionID: m.session, Sender: m.sender, Text: m.text, CreatedAt: m.at,
		}))
	}
	require.NoError(t, store.AppendMessage(ctx, "other@example.com", &ChatMessage{
		SessionID: "s1", Sender: SenderUser, Text: "not jane's",
	}))

	sessions, err := store.ListChatSessions(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Equal(t, "second question", sessions[0].Title)
	assert.Equal(t, 2, sessions[0].MessageCount)
	assert.True(t, base.Add(time.Minute+time.Second).Equal(sessions[0].LastMessageAt))
	assert.Equal(t, "s1", sessions[1].ID)

	messages, err := store.ListMessages(ctx, "jane@example.com", "s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first question", messages[0].Text)
	assert.Equal(t, "first answer", messages[1].Text)
	assert.NotEmpty(t, messages[0].ID)

	all, err := store.ListAllMessages(ctx, "jane@example.com", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first answer", all[0].Text)
	assert.Equal(t, "second answer", all[2].Text)

	assert.Error(t, store.AppendMessage(ctx, "", &ChatMessage{SessionID: "s1"}))
}
