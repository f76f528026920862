// Package server is the gateway's HTTP surface: OAuth sign-in and sign-out,
// the session endpoints the browser polls, and the authenticated proxy to
// the chat API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raine/reellytics-gateway/internal/apiclient"
	"github.com/raine/reellytics-gateway/internal/auth"
	"github.com/raine/reellytics-gateway/internal/metrics"
	"github.com/raine/reellytics-gateway/internal/storage"
	"github.com/raine/reellytics-gateway/internal/web"
)

var validate = validator.New()

// Authorizer starts and completes a provider login.
type Authorizer interface {
	Begin() (*auth.AuthRequest, error)
	Exchange(ctx context.Context, code, codeVerifier string) (*auth.Account, error)
}

// ChatAPI is the downstream chat service.
type ChatAPI interface {
	Chat(ctx context.Context, ts *auth.TokenSet, body apiclient.ChatRequest) (*apiclient.ChatResponse, error)
	Analyze(ctx context.Context, ts *auth.TokenSet, body apiclient.AnalyzeRequest) (*apiclient.AnalyzeResponse, error)
	History(ctx context.Context, ts *auth.TokenSet) (*apiclient.HistoryResponse, error)
}

type Options struct {
	Authorizer Authorizer
	Pipeline   *auth.Pipeline
	Handshake  *auth.Handshake
	ChatAPI    ChatAPI

	Sessions   storage.SessionStore
	UserTokens storage.UserTokenStore
	ChatLog    storage.ChatLogStore

	// CookieHashKey authenticates and CookieBlockKey encrypts the session cookie.
	CookieHashKey  []byte
	CookieBlockKey []byte
	SecureCookies  bool
	SessionMaxAge  time.Duration
}

type Server struct {
	authorizer Authorizer
	pipeline   *auth.Pipeline
	handshake  *auth.Handshake
	api        ChatAPI
	sessions   storage.SessionStore
	userTokens storage.UserTokenStore
	chatLog    storage.ChatLogStore
	cookies    *sessions.CookieStore

	newSessionID func() string
}

// New creates the gateway. Minted and refreshed token sets are written to
// opts.UserTokens so the chat API can authorize them.
func New(opts Options) *Server {
	cookies := sessions.NewCookieStore(opts.CookieHashKey, opts.CookieBlockKey)
	maxAge := opts.SessionMaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}

	s := &Server{
		authorizer: opts.Authorizer,
		pipeline:   opts.Pipeline,
		handshake:  opts.Handshake,
		api:        opts.ChatAPI,
		sessions:   opts.Sessions,
		userTokens: opts.UserTokens,
		chatLog:    opts.ChatLog,
		cookies:    cookies,

		newSessionID: uuid.NewString,
	}
	if s.userTokens != nil {
		s.pipeline.OnChange = s.recordUserTokens
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(web.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", s.handleLogin)
		r.Get("/callback", s.handleCallback)
		r.Get("/session", s.handleSession)
		r.Get("/token", s.handleToken)
		r.Get("/introspect", s.handleIntrospect)
		r.Post("/logout", s.handleLogout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/history", s.handleHistory)
		r.Get("/chats", s.handleListChats)
		r.Get("/chats/{id}", s.handleGetChat)
	})

	return r
}
