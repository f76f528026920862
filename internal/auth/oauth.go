package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// AuthRequest is a pending authorization code login. State, Nonce and
// CodeVerifier must be kept until the callback.
type AuthRequest struct {
	URL          string
	State        string
	Nonce        string
	CodeVerifier string
}

// Authorizer runs the OAuth authorization code flow with PKCE.
type Authorizer struct {
	provider    Provider
	redirectURI string
	client      *resty.Client
}

// NewAuthorizer creates an authorizer redirecting back to redirectURI.
func NewAuthorizer(p Provider, redirectURI string, client *resty.Client) *Authorizer {
	if client == nil {
		client = newProviderClient()
	}
	return &Authorizer{provider: p, redirectURI: redirectURI, client: client}
}

// Begin starts a login and returns the provider URL to redirect the user to.
func (a *Authorizer) Begin() (*AuthRequest, error) {
	state, err := randomString(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := randomString(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	verifier, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	q := url.Values{}
	for k, v := range a.provider.AuthParams {
		q.Set(k, v)
	}
	q.Set("client_id", a.provider.ClientID)
	q.Set("redirect_uri", a.redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(a.provider.Scopes, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("code_challenge", codeChallenge(verifier))
	q.Set("code_challenge_method", "S256")

	return &AuthRequest{
		URL:          a.provider.AuthURL + "?" + q.Encode(),
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
	}, nil
}

// Exchange trades an authorization code for the provider account.
func (a *Authorizer) Exchange(ctx context.Context, code, codeVerifier string) (*Account, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidAccount)
	}

	log.Info().
		Str("provider", a.provider.Name).
		Str("tokenURL", a.provider.TokenURL).
		Msg("exchanging authorization code for tokens")

	res, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"redirect_uri":  a.redirectURI,
			"client_id":     a.provider.ClientID,
			"client_secret": a.provider.ClientSecret,
			"code_verifier": codeVerifier,
		}).
		Post(a.provider.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for tokens: %w", err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", res.StatusCode(), res.String())
	}

	var body tokenResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if err := body.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}

	return &Account{
		Provider:         a.provider.Name,
		AccessToken:      body.AccessToken,
		RefreshToken:     body.RefreshToken,
		IDToken:          body.IDToken,
		ExpiresIn:        body.ExpiresIn,
		RefreshExpiresIn: body.RefreshExpiresIn,
	}, nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func codeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
