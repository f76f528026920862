package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Account is the provider's response to a completed sign-in.
type Account struct {
	Provider         string
	AccessToken      string
	RefreshToken     string
	IDToken          string
	ExpiresIn        int64
	RefreshExpiresIn int64
}

// Callback carries what the current authentication check received besides
// the existing token set. Account and User are only present right after a
// provider sign-in.
type Callback struct {
	Account *Account
	User    *User
}

// Pipeline decides, on every authentication check, which token set the rest
// of the system should use: a freshly minted one, the existing one, or a
// refreshed one.
type Pipeline struct {
	refresher TokenRefresher
	inflight  singleflight.Group

	// Now is the clock used for expiry decisions.
	Now func() time.Time
	// OnChange, if set, is called with every newly minted or refreshed set.
	OnChange func(ctx context.Context, ts TokenSet)
}

// NewPipeline creates a pipeline refreshing through r.
func NewPipeline(r TokenRefresher) *Pipeline {
	return &Pipeline{refresher: r, Now: time.Now}
}

// Resolve returns the token set to use for this check. current may be nil.
//
// A sign-in account always wins over current, even if current is still
// valid. A set carrying an error is returned unchanged; it is terminal until
// the next sign-in. A valid set is returned unchanged without any network
// call. An expired set is refreshed; a failed refresh yields the set flagged
// with a TokenError rather than an error.
func (p *Pipeline) Resolve(ctx context.Context, current *TokenSet, cb Callback) (TokenSet, error) {
	now := p.Now()

	if cb.Account != nil {
		ts, err := mint(*cb.Account, cb.User, now)
		if err != nil {
			return TokenSet{}, err
		}
		log.Info().
			Str("provider", cb.Account.Provider).
			Str("email", ts.User.Email).
			Time("expiresAt", ts.AccessTokenExpiresAt).
			Msg("minted token set from sign-in")
		p.changed(ctx, ts)
		return ts, nil
	}

	if current == nil {
		return TokenSet{}, ErrUnauthenticated
	}

	switch current.State(now) {
	case StateErrored, StateValid:
		return *current, nil
	}

	if current.RefreshExpiredAt(now) {
		log.Info().Str("email", current.User.Email).Msg("refresh token expired")
		return current.withError(AccessTokenExpired), nil
	}

	next, err := p.refresh(ctx, *current)
	switch {
	case errors.Is(err, ErrInvalidRefreshToken):
		log.Warn().Str("email", current.User.Email).Msg("access token expired without refresh token")
		return current.withError(RefreshTokenMissing), nil
	case err != nil:
		log.Error().Err(err).Str("email", current.User.Email).Msg("token refresh failed")
		return current.withError(RefreshAccessTokenError), nil
	}

	if next.Error == "" {
		p.changed(ctx, next)
	}
	return next, nil
}

// refresh runs at most one refresh per refresh token at a time. Concurrent
// checks of the same expired session share the result, so a provider that
// invalidates a rotated refresh token sees a single exchange.
func (p *Pipeline) refresh(ctx context.Context, ts TokenSet) (TokenSet, error) {
	if ts.RefreshToken == "" {
		return ts, ErrInvalidRefreshToken
	}

	// Detached from the caller's cancellation since other waiters share it.
	sharedCtx := context.WithoutCancel(ctx)
	v, err, shared := p.inflight.Do(ts.RefreshToken, func() (any, error) {
		return p.refresher.Refresh(sharedCtx, ts)
	})
	if shared {
		log.Debug().Str("email", ts.User.Email).Msg("joined in-flight token refresh")
	}
	if err != nil {
		return ts, err
	}

	next, ok := v.(TokenSet)
	if !ok {
		return ts, fmt.Errorf("unexpected refresh result %T", v)
	}
	return next, nil
}

func (p *Pipeline) changed(ctx context.Context, ts TokenSet) {
	if p.OnChange != nil {
		p.OnChange(ctx, ts)
	}
}

// mint builds a new token set from a sign-in account. User claims come from
// the provider's user profile, falling back to the ID token claims.
func mint(acc Account, user *User, now time.Time) (TokenSet, error) {
	if acc.AccessToken == "" {
		return TokenSet{}, fmt.Errorf("%w: missing access token", ErrInvalidAccount)
	}
	if acc.ExpiresIn <= 0 {
		return TokenSet{}, fmt.Errorf("%w: missing expires_in", ErrInvalidAccount)
	}

	ts := TokenSet{
		AccessToken:          acc.AccessToken,
		RefreshToken:         acc.RefreshToken,
		IDToken:              acc.IDToken,
		AccessTokenExpiresAt: expiresAt(now, acc.ExpiresIn),
	}
	if acc.RefreshExpiresIn > 0 {
		ts.RefreshTokenExpiresAt = expiresAt(now, acc.RefreshExpiresIn)
	}

	switch {
	case user != nil:
		ts.User = *user
	case acc.IDToken != "":
		u, err := UserFromIDToken(acc.IDToken)
		if err != nil {
			log.Warn().Err(err).Msg("could not read user claims from id token")
		} else {
			ts.User = u
		}
	}

	return ts, nil
}
