package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(baseURL string) Provider {
	return KeycloakProvider(baseURL+"/realms/test", "web", "s3cret")
}

func expiredSet() TokenSet {
	return TokenSet{
		AccessToken:          "A1",
		RefreshToken:         "R1",
		IDToken:              "ID1",
		AccessTokenExpiresAt: time.Now().Add(-time.Minute),
		User:                 User{Name: "Jane", Email: "jane@example.com"},
	}
}

func TestRefresh_Success(t *testing.T) {
	var form url.Values
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"A2","expires_in":3600}`))
	}))
	defer ts.Close()

	r := NewRefresher(testProvider(ts.URL), nil)
	before := time.Now()
	got, err := r.Refresh(context.Background(), expiredSet())
	require.NoError(t, err)

	assert.Equal(t, "/realms/test/protocol/openid-connect/token", path)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "web", form.Get("client_id"))
	assert.Equal(t, "s3cret", form.Get("client_secret"))
	assert.Equal(t, "R1", form.Get("refresh_token"))

	assert.Equal(t, "A2", got.AccessToken)
	assert.Equal(t, "R1", got.RefreshToken, "refresh token kept when not rotated")
	assert.Equal(t, "ID1", got.IDToken)
	assert.Empty(t, got.Error)
	assert.Equal(t, "jane@example.com", got.User.Email)
	assert.WithinDuration(t, before.Add(time.Hour), got.AccessTokenExpiresAt, time.Second)
}

func TestRefresh_RotatesRefreshToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"A2","refresh_token":"R2","id_token":"ID2","expires_in":300,"refresh_expires_in":1800}`))
	}))
	defer ts.Close()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRefresher(testProvider(ts.URL), nil)
	r.Now = func() time.Time { return now }

	got, err := r.Refresh(context.Background(), expiredSet())
	require.NoError(t, err)
	assert.Equal(t, "A2", got.AccessToken)
	assert.Equal(t, "R2", got.RefreshToken)
	assert.Equal(t, "ID2", got.IDToken)
	assert.Equal(t, now.Add(5*time.Minute), got.AccessTokenExpiresAt)
	assert.Equal(t, now.Add(30*time.Minute), got.RefreshTokenExpiresAt)
}

func TestRefresh_ProviderRejects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token is not active"}`))
	}))
	defer ts.Close()

	in := expiredSet()
	got, err := NewRefresher(testProvider(ts.URL), nil).Refresh(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, RefreshAccessTokenError, got.Error)
	assert.Equal(t, "A1", got.AccessToken)
	assert.Equal(t, "R1", got.RefreshToken)
	assert.False(t, got.Usable())
}

func TestRefresh_MalformedResponse(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       `<html>oops</html>`,
		"missing token":  `{"expires_in":60}`,
		"missing expiry": `{"access_token":"A2"}`,
	} {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer ts.Close()

			got, err := NewRefresher(testProvider(ts.URL), nil).Refresh(context.Background(), expiredSet())
			require.NoError(t, err)
			assert.Equal(t, RefreshAccessTokenError, got.Error)
			assert.Equal(t, "A1", got.AccessToken)
		})
	}
}

func TestRefresh_NetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := ts.URL
	ts.Close()

	got, err := NewRefresher(testProvider(baseURL), nil).Refresh(context.Background(), expiredSet())
	require.NoError(t, err)
	assert.Equal(t, RefreshAccessTokenError, got.Error)
	assert.Equal(t, "R1", got.RefreshToken)
}

func TestRefresh_MissingRefreshToken(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	in := expiredSet()
	in.RefreshToken = ""
	_, err := NewRefresher(testProvider(ts.URL), nil).Refresh(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Zero(t, calls.Load())
}
