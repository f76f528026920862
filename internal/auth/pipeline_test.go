package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRefresher counts calls and returns a canned result.
type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{} // when non-nil, Refresh blocks until closed
	err     error
	fail    bool
}

func (f *fakeRefresher) Refresh(ctx context.Context, ts TokenSet) (TokenSet, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return ts, f.err
	}
	if f.fail {
		return ts.withError(RefreshAccessTokenError), nil
	}
	next := ts
	next.AccessToken = ts.AccessToken + "-refreshed"
	next.AccessTokenExpiresAt = time.Now().Add(time.Hour)
	return next, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPipeline(r TokenRefresher) *Pipeline {
	p := NewPipeline(r)
	p.Now = func() time.Time { return fixedNow }
	return p
}

func validSet() *TokenSet {
	return &TokenSet{
		AccessToken:          "A1",
		RefreshToken:         "R1",
		AccessTokenExpiresAt: fixedNow.Add(10 * time.Minute),
		User:                 User{Email: "jane@example.com"},
	}
}

func TestResolve_ValidSetUnchanged(t *testing.T) {
	r := &fakeRefresher{}
	p := newTestPipeline(r)
	in := validSet()

	first, err := p.Resolve(context.Background(), in, Callback{})
	require.NoError(t, err)
	second, err := p.Resolve(context.Background(), &first, Callback{})
	require.NoError(t, err)

	assert.Equal(t, *in, first)
	assert.Equal(t, first, second)
	assert.Zero(t, r.calls.Load(), "valid set must not trigger a refresh")
}

func TestResolve_ExpiredSetRefreshesOnce(t *testing.T) {
	r := &fakeRefresher{}
	p := newTestPipeline(r)
	in := validSet()
	in.AccessTokenExpiresAt = fixedNow

	got, err := p.Resolve(context.Background(), in, Callback{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, "A1-refreshed", got.AccessToken)
	assert.Empty(t, got.Error)
}

func TestResolve_RefreshFailureFlagsSet(t *testing.T) {
	p := newTestPipeline(&fakeRefresher{fail: true})
	in := validSet()
	in.AccessTokenExpiresAt = fixedNow.Add(-time.Second)

	got, err := p.Resolve(context.Background(), in, Callback{})
	require.NoError(t, err)
	assert.Equal(t, RefreshAccessTokenError, got.Error)
	assert.Equal(t, "A1", got.AccessToken)
}

func TestResolve_RefresherErrorFlagsSet(t *testing.T) {
	p := newTestPipeline(&fakeRefresher{err: errors.New("boom")})
	in := validSet()
	in.AccessTokenExpiresAt = fixedNow.Add(-time.Second)

	got, err := p.Resolve(context.Background(), in, Callback{})
	require.NoError(t, err)
	assert.Equal(t, RefreshAccessTokenError, got.Error)
}

func TestResolve_MissingRefreshToken(t *testing.T) {
	r := &fakeRefresher{}
	p := newTestPipeline(r)
	in := validSet()
	in.RefreshToken = ""
	in.AccessTokenExpiresAt = fixedNow.Add(-time.Second)

	got, err := p.Resolve(context.Background(), in, Callback{})
	require.NoError(t, err)
	assert.Equal(t, RefreshTokenMissing, got.Error)
	assert.Zero(t, r.calls.Load())
}

func TestResolve_RefreshTokenExpired(t *testing.T) {
	r := &fakeRefresher{}
	p := newTestPipeline(r)
	in := validSet()
	in.AccessTokenExpiresAt = fixedNow.Add(-time.Second)
	in.RefreshTokenExpiresAt = fixedNow.Add(-time.Second)

	got, err := p.Resolve(context.Background(), in, Callback{})
	require.NoError(t, err)
	assert.Equal(t, AccessTokenExpired, got.Error)
	assert.Zero(t, r.calls.Load())
}

func TestResolve_ErroredSetIsTerminal(t *testing.T) {
	r := &fakeRefresher{}
	p := newTestPipeline(r)
	in := validSet()
	in.AccessTokenExpiresAt = fixedNow.Add(-time.Hour)
	in.Error = RefreshAccessTokenError

	got, err := p.Resolve(context.Background(), in, Callback{})
	require.NoError(t, err)
	assert.Equal(t, *in, got)
	assert.Zero(t, r.calls.Load())
}

func TestResolve_NoSessionIsUnauthenticated(t *testing.T) {
	p := newTestPipeline(&fakeRefresher{})
	_, err := p.Resolve(context.Background(), nil, Callback{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolve_SignInReplacesValidSet(t *testing.T) {
	r := &fakeRefresher{}
	p := newTestPipeline(r)
	var changed []TokenSet
	p.OnChange = func(ctx context.Context, ts TokenSet) { changed = append(changed, ts) }

	got, err := p.Resolve(context.Background(), validSet(), Callback{
		Account: &Account{
			Provider:         "keycloak",
			AccessToken:      "NEW",
			RefreshToken:     "NEWR",
			IDToken:          "NEWID",
			ExpiresIn:        300,
			RefreshExpiresIn: 1800,
		},
		User: &User{Name: "Jane Doe", Email: "jane@example.com", Image: "https://img/jane.png"},
	})
	require.NoError(t, err)

	assert.Equal(t, TokenSet{
		AccessToken:           "NEW",
		RefreshToken:          "NEWR",
		IDToken:               "NEWID",
		AccessTokenExpiresAt:  fixedNow.Add(5 * time.Minute),
		RefreshTokenExpiresAt: fixedNow.Add(30 * time.Minute),
		User:                  User{Name: "Jane Doe", Email: "jane@example.com", Image: "https://img/jane.png"},
	}, got)
	assert.Zero(t, r.calls.Load())
	require.Len(t, changed, 1)
	assert.Equal(t, got, changed[0])
}

func TestResolve_SignInUserFromIDToken(t *testing.T) {
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"preferred_username": "jane",
		"email":              "jane@example.com",
		"picture":            "https://img/jane.png",
	}).SignedString([]byte("test"))
	require.NoError(t, err)

	p := newTestPipeline(&fakeRefresher{})
	got, err := p.Resolve(context.Background(), nil, Callback{
		Account: &Account{AccessToken: "A", IDToken: idToken, ExpiresIn: 60},
	})
	require.NoError(t, err)
	assert.Equal(t, User{Name: "jane", Email: "jane@example.com", Image: "https://img/jane.png"}, got.User)
}

func TestResolve_SignInRejectsIncompleteAccount(t *testing.T) {
	p := newTestPipeline(&fakeRefresher{})
	_, err := p.Resolve(context.Background(), nil, Callback{Account: &Account{ExpiresIn: 60}})
	assert.ErrorIs(t, err, ErrInvalidAccount)

	_, err = p.Resolve(context.Background(), nil, Callback{Account: &Account{AccessToken: "A"}})
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestResolve_ConcurrentRefreshIsShared(t *testing.T) {
	r := &fakeRefresher{release: make(chan struct{})}
	p := newTestPipeline(r)
	in := validSet()
	in.AccessTokenExpiresAt = fixedNow.Add(-time.Second)

	const n = 8
	var wg sync.WaitGroup
	results := make([]TokenSet, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp := *in
			got, err := p.Resolve(context.Background(), &cp, Callback{})
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	// Let every goroutine reach the in-flight refresh before releasing it.
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	for _, got := range results {
		assert.Equal(t, "A1-refreshed", got.AccessToken)
	}
}
