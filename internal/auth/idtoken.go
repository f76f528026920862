package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type idTokenClaims struct {
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Picture           string `json:"picture"`
	Nonce             string `json:"nonce"`
	jwt.RegisteredClaims
}

// UserFromIDToken reads the identity claims of an ID token. The signature is
// not verified: the token was received directly from the provider's token
// endpoint over TLS.
func UserFromIDToken(idToken string) (User, error) {
	claims := &idTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	return User{Name: name, Email: claims.Email, Image: claims.Picture}, nil
}

// VerifyNonce checks that the ID token was issued for the login that sent
// nonce. Tokens without a nonce claim are accepted; some providers omit it
// on the code flow.
func VerifyNonce(idToken, nonce string) error {
	claims := &idTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.Nonce != "" && claims.Nonce != nonce {
		return ErrStateMismatch
	}
	return nil
}

// Introspection is the decoded, unverified content of a JWT.
type Introspection struct {
	Header  map[string]any `json:"header"`
	Payload map[string]any `json:"payload"`
}

// Introspect decodes the header and payload of a JWT without verifying it.
func Introspect(token string) (*Introspection, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return nil, fmt.Errorf("%w: expected three segments", ErrMalformedToken)
	}

	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return &Introspection{Header: parsed.Header, Payload: claims}, nil
}
