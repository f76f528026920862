// Package auth implements the OAuth token lifecycle of a signed-in session:
// minting a token set from a provider sign-in, tracking its expiry, silently
// refreshing it with the refresh grant and ending it with the provider
// sign-out handshake.
//
// Token sets are plain values. Callers pass the current set explicitly and
// persist whatever a pipeline run returns; nothing in this package keeps a
// session in global state.
package auth

import "time"

// TokenError marks a token set as terminal. Once set, the access token must
// not be used for outbound calls.
type TokenError string

const (
	// RefreshAccessTokenError means the provider rejected the refresh grant.
	RefreshAccessTokenError TokenError = "RefreshAccessTokenError"
	// RefreshTokenMissing means the set expired and has no refresh token.
	RefreshTokenMissing TokenError = "RefreshTokenMissing"
	// AccessTokenExpired means the set expired and its refresh token has
	// expired as well.
	AccessTokenExpired TokenError = "AccessTokenExpired"
)

// User holds the identity claims copied from the initial sign-in. They are
// not re-fetched on refresh.
type User struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// TokenSet is the bundle of credentials representing one authenticated session.
type TokenSet struct {
	AccessToken           string     `json:"access_token"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	AccessTokenExpiresAt  time.Time  `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time  `json:"refresh_token_expires_at,omitempty"`
	IDToken               string     `json:"id_token,omitempty"`
	User                  User       `json:"user"`
	Error                 TokenError `json:"error,omitempty"`
}

// State is the lifecycle state of a token set at a given instant.
type State int

const (
	StateValid State = iota
	StateExpired
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Usable reports whether the access token may be attached to outbound calls.
func (t *TokenSet) Usable() bool {
	return t != nil && t.Error == "" && t.AccessToken != ""
}

// ExpiredAt reports whether the access token has expired at now. A set is
// expired at and after its expiry instant.
func (t *TokenSet) ExpiredAt(now time.Time) bool {
	return !now.Before(t.AccessTokenExpiresAt)
}

// RefreshExpiredAt reports whether the refresh token is known to have expired.
// Providers that don't report a refresh token lifetime never expire here.
func (t *TokenSet) RefreshExpiredAt(now time.Time) bool {
	if t.RefreshTokenExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.RefreshTokenExpiresAt)
}

// State classifies the set at now.
func (t *TokenSet) State(now time.Time) State {
	if t.Error != "" {
		return StateErrored
	}
	if t.ExpiredAt(now) {
		return StateExpired
	}
	return StateValid
}

// withError returns a copy of the set flagged as terminal. The tokens are kept
// for diagnostics.
func (t TokenSet) withError(e TokenError) TokenSet {
	t.Error = e
	return t
}

// expiresAt converts a relative lifetime in seconds into an absolute instant.
func expiresAt(now time.Time, seconds int64) time.Time {
	return now.Add(time.Duration(seconds) * time.Second)
}

// Redact shortens a credential for logging.
func Redact(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
