package auth

import "errors"

var (
	// ErrInvalidRefreshToken is returned when a refresh is attempted without a
	// refresh token. It is not retried and forces re-authentication.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrUnauthenticated means no usable token set is available.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidAccount is returned when a provider sign-in response lacks the
	// fields needed to mint a token set.
	ErrInvalidAccount = errors.New("invalid provider account")
	// ErrMalformedToken is returned when a token is not a well-formed JWT.
	ErrMalformedToken = errors.New("malformed token")
	// ErrStateMismatch is returned when the OAuth callback state doesn't match
	// the pending login.
	ErrStateMismatch = errors.New("oauth state mismatch")
)
