package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/raine/reellytics-gateway/internal/auth"
	"github.com/raine/reellytics-gateway/internal/metrics"
	"github.com/raine/reellytics-gateway/internal/storage"
	"github.com/raine/reellytics-gateway/internal/web"
)

type sessionUser struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

type sessionResponse struct {
	User        sessionUser     `json:"user"`
	AccessToken string          `json:"accessToken,omitempty"`
	Expires     int64           `json:"expires"`
	Error       auth.TokenError `json:"error,omitempty"`
}

type tokenResponse struct {
	Name               string `json:"name,omitempty"`
	Email              string `json:"email,omitempty"`
	Picture            string `json:"picture,omitempty"`
	AccessToken        string `json:"accessToken"`
	RefreshToken       string `json:"refreshToken,omitempty"`
	AccessTokenExpires int64  `json:"accessTokenExpires"`
}

// handleLogin starts the authorization code flow and redirects to the provider.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := s.authorizer.Begin()
	if err != nil {
		log.Error().Err(err).Msg("failed to start login")
		web.WriteError(w, http.StatusInternalServerError, "could not start sign-in")
		return
	}

	cs := s.cookie(r)
	cs.Values[keyState] = req.State
	cs.Values[keyNonce] = req.Nonce
	cs.Values[keyVerifier] = req.CodeVerifier
	cs.Values[keyReturnTo] = safeReturnTo(r.URL.Query().Get("callbackUrl"))
	if err := cs.Save(r, w); err != nil {
		log.Error().Err(err).Msg("failed to save login state")
		web.WriteError(w, http.StatusInternalServerError, "could not start sign-in")
		return
	}

	http.Redirect(w, r, req.URL, http.StatusFound)
}

// handleCallback completes the login: it checks the state, exchanges the code,
// mints a token set and starts a fresh session.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	cs := s.cookie(r)

	if providerErr := q.Get("error"); providerErr != "" {
		log.Warn().Str("error", providerErr).Str("description", q.Get("error_description")).Msg("provider denied sign-in")
		http.Redirect(w, r, "/?error="+url.QueryEscape(providerErr), http.StatusFound)
		return
	}

	state := cookieString(cs, keyState)
	if state == "" || q.Get("state") != state {
		log.Warn().Msg("oauth callback with unexpected state")
		web.WriteError(w, http.StatusBadRequest, auth.ErrStateMismatch.Error())
		return
	}

	account, err := s.authorizer.Exchange(ctx, q.Get("code"), cookieString(cs, keyVerifier))
	if err != nil {
		log.Error().Err(err).Msg("code exchange failed")
		web.WriteError(w, http.StatusUnauthorized, "sign-in failed")
		return
	}
	if account.IDToken != "" {
		if err := auth.VerifyNonce(account.IDToken, cookieString(cs, keyNonce)); err != nil {
			log.Warn().Err(err).Msg("id token nonce mismatch")
			web.WriteError(w, http.StatusBadRequest, "sign-in failed")
			return
		}
	}

	ts, err := s.pipeline.Resolve(ctx, nil, auth.Callback{Account: account})
	if err != nil {
		log.Error().Err(err).Msg("failed to mint token set")
		web.WriteError(w, http.StatusUnauthorized, "sign-in failed")
		return
	}

	if old := cookieString(cs, keySessionID); old != "" {
		if err := s.sessions.Delete(ctx, old); err != nil {
			log.Warn().Err(err).Msg("failed to delete replaced session")
		}
	}

	stored := &storage.StoredSession{ID: s.newSessionID(), Tokens: ts}
	if err := s.sessions.Save(ctx, stored); err != nil {
		log.Error().Err(err).Msg("failed to save new session")
		web.WriteError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}

	returnTo := cookieString(cs, keyReturnTo)
	for _, k := range []string{keyState, keyNonce, keyVerifier, keyReturnTo} {
		delete(cs.Values, k)
	}
	cs.Values[keySessionID] = stored.ID
	if err := cs.Save(r, w); err != nil {
		log.Error().Err(err).Msg("failed to save session cookie")
		web.WriteError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}

	log.Info().Str("email", ts.User.Email).Msg("user signed in")
	if returnTo == "" {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// handleSession reports the caller's session. A session whose tokens can no
// longer be refreshed is signed out as part of the check.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rs, err := s.resolve(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	ts := rs.current()
	resp := sessionResponse{
		User:    sessionUser(ts.User),
		Expires: ts.AccessTokenExpiresAt.UnixMilli(),
		Error:   ts.Error,
	}

	signedOut, err := s.handshake.SignOutIfErrored(r.Context(), ts, s.clearLocal(w, r, rs))
	if err != nil {
		log.Error().Err(err).Msg("automatic sign-out failed")
	}
	if signedOut {
		metrics.SignOuts.WithLabelValues("token_error").Inc()
	}

	if ts := rs.current(); ts.Usable() {
		resp.AccessToken = ts.AccessToken
	}
	web.WriteJSON(w, http.StatusOK, resp)
}

// handleToken returns the filtered token view of the caller's session.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	rs, err := s.resolve(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	ts := rs.current()
	if !ts.Usable() {
		web.WriteError(w, http.StatusUnauthorized, string(ts.Error))
		return
	}

	web.WriteJSON(w, http.StatusOK, tokenResponse{
		Name:               ts.User.Name,
		Email:              ts.User.Email,
		Picture:            ts.User.Image,
		AccessToken:        ts.AccessToken,
		RefreshToken:       ts.RefreshToken,
		AccessTokenExpires: ts.AccessTokenExpiresAt.UnixMilli(),
	})
}

// handleIntrospect decodes the bearer JWT of the request without verifying it.
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		web.WriteError(w, http.StatusBadRequest, "missing bearer token")
		return
	}

	res, err := auth.Introspect(token)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]any{"res": res})
}

// handleLogout signs the caller out locally and at the provider.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	stored, err := s.storedSession(r)
	if err != nil && !errors.Is(err, auth.ErrUnauthenticated) {
		log.Error().Err(err).Msg("failed to load session for logout")
	}

	if stored == nil {
		// Nothing to end at the provider, only drop the cookie.
		if err := s.clearLocal(w, r, nil)(r.Context()); err != nil {
			log.Error().Err(err).Msg("failed to clear session cookie")
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rs := &requestSession{id: stored.ID, tokens: auth.NewStore(&stored.Tokens)}
	if err := s.handshake.SignOut(r.Context(), rs.current(), s.clearLocal(w, r, rs)); err != nil {
		web.WriteError(w, http.StatusInternalServerError, "sign-out failed")
		return
	}
	metrics.SignOuts.WithLabelValues("user").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrUnauthenticated) {
		web.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	log.Error().Err(err).Msg("session lookup failed")
	web.WriteError(w, http.StatusInternalServerError, "internal error")
}

// safeReturnTo only allows same-origin paths.
func safeReturnTo(v string) string {
	if !strings.HasPrefix(v, "/") || strings.HasPrefix(v, "//") || strings.HasPrefix(v, "/\\") {
		return ""
	}
	return v
}
