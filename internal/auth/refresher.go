package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, ts TokenSet) (TokenSet, error)
}

// Refresher implements the refresh grant against a provider's token endpoint.
type Refresher struct {
	provider Provider
	client   *resty.Client

	// Now is the clock used to compute expiry instants.
	Now func() time.Time
}

// NewRefresher creates a refresher for p. A nil client gets a default one.
func NewRefresher(p Provider, client *resty.Client) *Refresher {
	if client == nil {
		client = newProviderClient()
	}
	return &Refresher{provider: p, client: client, Now: time.Now}
}

// Refresh returns a refreshed copy of ts.
//
// A missing refresh token fails with ErrInvalidRefreshToken before any
// network call. Every other failure (transport error, non-2xx status,
// malformed body) yields ts flagged with RefreshAccessTokenError and a nil
// error; the set keeps its tokens but is terminal. Refreshes are never retried.
func (r *Refresher) Refresh(ctx context.Context, ts TokenSet) (TokenSet, error) {
	if ts.RefreshToken == "" {
		return ts, ErrInvalidRefreshToken
	}

	logger := log.With().
		Str("provider", r.provider.Name).
		Str("email", ts.User.Email).
		Logger()

	logger.Info().Msg("refreshing access token")

	res, err := r.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     r.provider.ClientID,
			"client_secret": r.provider.ClientSecret,
			"refresh_token": ts.RefreshToken,
		}).
		Post(r.provider.TokenURL)
	if err != nil {
		logger.Error().Err(err).Msg("refresh request failed")
		return ts.withError(RefreshAccessTokenError), nil
	}
	if !res.IsSuccess() {
		logger.Error().
			Int("status", res.StatusCode()).
			Str("response", string(res.Body())).
			Msg("identity provider rejected refresh grant")
		return ts.withError(RefreshAccessTokenError), nil
	}

	var body tokenResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		logger.Error().Err(err).Msg("failed to parse refresh response")
		return ts.withError(RefreshAccessTokenError), nil
	}
	if err := body.validate(); err != nil {
		logger.Error().Err(err).Msg("invalid refresh response")
		return ts.withError(RefreshAccessTokenError), nil
	}

	next := applyRefresh(ts, body, r.Now())
	logger.Info().
		Time("expiresAt", next.AccessTokenExpiresAt).
		Bool("rotated", next.RefreshToken != ts.RefreshToken).
		Msg("access token refreshed")
	return next, nil
}

// applyRefresh builds the refreshed set. The refresh token is replaced only
// when the provider rotated it.
func applyRefresh(ts TokenSet, body tokenResponse, now time.Time) TokenSet {
	next := ts
	next.Error = ""
	next.AccessToken = body.AccessToken
	next.AccessTokenExpiresAt = expiresAt(now, body.ExpiresIn)
	if body.RefreshToken != "" {
		next.RefreshToken = body.RefreshToken
	}
	if body.RefreshExpiresIn > 0 {
		next.RefreshTokenExpiresAt = expiresAt(now, body.RefreshExpiresIn)
	}
	if body.IDToken != "" {
		next.IDToken = body.IDToken
	}
	return next
}
