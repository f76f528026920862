package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/raine/reellytics-gateway/internal/auth"
	"github.com/raine/reellytics-gateway/internal/metrics"
	"github.com/raine/reellytics-gateway/internal/storage"
)

const cookieName = "reellytics.session"

// Cookie values
const (
	keySessionID = "sid"
	keyState     = "state"
	keyNonce     = "nonce"
	keyVerifier  = "verifier"
	keyReturnTo  = "return_to"
)

// cookie returns the browser's session cookie. A cookie that fails to decode,
// e.g. after a key change, is replaced by an empty one.
func (s *Server) cookie(r *http.Request) *sessions.Session {
	cs, err := s.cookies.Get(r, cookieName)
	if err != nil {
		log.Debug().Err(err).Msg("discarding undecodable session cookie")
	}
	return cs
}

func cookieString(cs *sessions.Session, key string) string {
	v, _ := cs.Values[key].(string)
	return v
}

// storedSession loads the persisted session the cookie points at.
func (s *Server) storedSession(r *http.Request) (*storage.StoredSession, error) {
	sid := cookieString(s.cookie(r), keySessionID)
	if sid == "" {
		return nil, auth.ErrUnauthenticated
	}
	stored, err := s.sessions.Get(r.Context(), sid)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, auth.ErrUnauthenticated
	}
	return stored, nil
}

// requestSession is the caller's session for the duration of one request.
// Its token set lives in a Store so that a sign-out during the request is
// seen by everything that reads it afterwards.
type requestSession struct {
	id     string
	tokens *auth.Store
}

// current returns the session's token set, or nil once it was signed out.
func (rs *requestSession) current() *auth.TokenSet {
	ts, ok := rs.tokens.Get()
	if !ok {
		return nil
	}
	return &ts
}

// resolve runs the callback pipeline on the caller's session and persists the
// result if it changed. The resolved set may carry a TokenError.
func (s *Server) resolve(r *http.Request) (*requestSession, error) {
	ctx := r.Context()
	stored, err := s.storedSession(r)
	if err != nil {
		return nil, err
	}

	rs := &requestSession{id: stored.ID, tokens: auth.NewStore(&stored.Tokens)}
	current := rs.current()

	next, err := s.pipeline.Resolve(ctx, current, auth.Callback{})
	if err != nil {
		return nil, err
	}

	changed := next != *current
	if changed {
		rs.tokens.Set(next)
		stored.Tokens = next
		if err := s.sessions.Save(ctx, stored); err != nil {
			log.Error().Err(err).Str("sid", stored.ID).Msg("failed to persist resolved token set")
		}
	}
	refreshed := changed && next.AccessToken != current.AccessToken
	metrics.TokenResolutions.WithLabelValues(metrics.ResolutionResult(next, refreshed)).Inc()

	return rs, nil
}

// clearLocal deletes the persisted session, drops its token set and expires
// the cookie. rs may be nil when there is no stored session.
func (s *Server) clearLocal(w http.ResponseWriter, r *http.Request, rs *requestSession) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		if rs != nil {
			rs.tokens.Clear()
			if err := s.sessions.Delete(ctx, rs.id); err != nil {
				errs = append(errs, err)
			}
		}
		cs := s.cookie(r)
		for k := range cs.Values {
			delete(cs.Values, k)
		}
		cs.Options.MaxAge = -1
		if err := cs.Save(r, w); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
}

// recordUserTokens stores a minted or refreshed token set of the user for the
// chat API's access token check.
func (s *Server) recordUserTokens(ctx context.Context, ts auth.TokenSet) {
	if ts.User.Email == "" {
		log.Warn().Msg("token set without email, not recording user tokens")
		return
	}
	err := s.userTokens.UpsertUserTokens(ctx, storage.UserTokens{
		Email:                ts.User.Email,
		Name:                 ts.User.Name,
		Image:                ts.User.Image,
		AccessToken:          ts.AccessToken,
		RefreshToken:         ts.RefreshToken,
		AccessTokenExpiresAt: ts.AccessTokenExpiresAt,
	})
	if err != nil {
		log.Error().Err(err).Str("email", ts.User.Email).Msg("failed to record user tokens")
	}
}
