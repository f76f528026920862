package auth

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// DefaultLogoutTimeout bounds the provider logout call.
const DefaultLogoutTimeout = 5 * time.Second

// Handshake notifies the identity provider that a session has ended.
type Handshake struct {
	provider Provider
	client   *resty.Client
	timeout  time.Duration
}

// NewHandshake creates a sign-out handshake for p. A nil client gets a
// default one; a non-positive timeout uses DefaultLogoutTimeout.
func NewHandshake(p Provider, client *resty.Client, timeout time.Duration) *Handshake {
	if client == nil {
		client = newProviderClient()
	}
	if timeout <= 0 {
		timeout = DefaultLogoutTimeout
	}
	return &Handshake{provider: p, client: client, timeout: timeout}
}

// SignOut clears local state and then notifies the provider. Local sign-out
// always completes first; the provider call is best effort and its failures
// are only logged. The returned error is the one from clearLocal, if any.
func (h *Handshake) SignOut(ctx context.Context, ts *TokenSet, clearLocal func(context.Context) error) error {
	var clearErr error
	if clearLocal != nil {
		clearErr = clearLocal(ctx)
		if clearErr != nil {
			log.Error().Err(clearErr).Msg("failed to clear local session")
		}
	}

	h.notify(ctx, ts)
	return clearErr
}

// SignOutIfErrored signs out when ts carries a TokenError. It reports whether
// a sign-out was performed.
func (h *Handshake) SignOutIfErrored(ctx context.Context, ts *TokenSet, clearLocal func(context.Context) error) (bool, error) {
	if ts == nil || ts.Error == "" {
		return false, nil
	}
	log.Info().
		Str("email", ts.User.Email).
		Str("tokenError", string(ts.Error)).
		Msg("signing out stale session")
	return true, h.SignOut(ctx, ts, clearLocal)
}

func (h *Handshake) notify(ctx context.Context, ts *TokenSet) {
	if h.provider.LogoutURL == "" {
		log.Debug().Str("provider", h.provider.Name).Msg("provider has no logout endpoint")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	req := h.client.R().SetContext(ctx)
	if ts != nil && ts.IDToken != "" {
		req.SetQueryParam("id_token_hint", ts.IDToken)
	} else {
		req.SetQueryParam("client_id", h.provider.ClientID)
	}

	res, err := req.Get(h.provider.LogoutURL)
	if err != nil {
		log.Error().Err(err).Msg("unable to perform post-logout handshake")
		return
	}
	log.Info().
		Int("status", res.StatusCode()).
		Str("statusText", res.Status()).
		Msg("completed post-logout handshake")
}
