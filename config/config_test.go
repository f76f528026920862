package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/reellytics-gateway/internal/auth"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NEXTAUTH_SECRET", "secret")
	t.Setenv("KEYCLOAK_ISSUER", "https://sso.example.com/realms/reels")
	t.Setenv("KEYCLOAK_ID", "web")
	t.Setenv("KEYCLOAK_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.Equal(t, SessionBackendSQLite, cfg.SessionBackend)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 5*time.Second, cfg.LogoutTimeout)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, auth.SchemeBearer, cfg.AuthScheme())
	assert.Equal(t, "http://localhost:3000/auth/callback", cfg.CallbackURL())
	assert.False(t, cfg.SecureCookies())

	p := cfg.Provider()
	assert.Equal(t, "keycloak", p.Name)
	assert.Equal(t, "https://sso.example.com/realms/reels/protocol/openid-connect/token", p.TokenURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("NEXTAUTH_SECRET", "secret")
	t.Setenv("NEXTAUTH_URL", "https://reels.example.com/")
	t.Setenv("GOOGLE_CLIENT_ID", "gid")
	t.Setenv("API_AUTH_SCHEME", "raw")
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("LOGOUT_TIMEOUT", "2s")
	t.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "google", cfg.Provider().Name)
	assert.Equal(t, auth.SchemeRaw, cfg.AuthScheme())
	assert.Equal(t, SessionBackendRedis, cfg.SessionBackend)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 2*time.Second, cfg.LogoutTimeout)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "https://reels.example.com/auth/callback", cfg.CallbackURL())
	assert.True(t, cfg.SecureCookies())
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("NEXTAUTH_SECRET", "")
		t.Setenv("GOOGLE_CLIENT_ID", "gid")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("no provider", func(t *testing.T) {
		t.Setenv("NEXTAUTH_SECRET", "secret")
		t.Setenv("KEYCLOAK_ISSUER", "")
		t.Setenv("GOOGLE_CLIENT_ID", "")
		_, err := Load()
		assert.ErrorContains(t, err, "KEYCLOAK_ISSUER or GOOGLE_CLIENT_ID")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("NEXTAUTH_SECRET", "secret")
		t.Setenv("GOOGLE_CLIENT_ID", "gid")
		t.Setenv("SESSION_BACKEND", "memcached")
		_, err := Load()
		assert.ErrorContains(t, err, "SESSION_BACKEND")
	})
}

func TestLoadChatAPI_NoProviderNeeded(t *testing.T) {
	t.Setenv("NEXTAUTH_SECRET", "secret")
	t.Setenv("KEYCLOAK_ISSUER", "")
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("CHAT_API_ADDR", ":9000")

	cfg, err := LoadChatAPI()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ChatAPIAddr)
}
