// Package chatapi is the downstream chat service: it authorizes requests by
// the access tokens the gateway recorded and answers reel analytics questions.
package chatapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/raine/reellytics-gateway/internal/apiclient"
	"github.com/raine/reellytics-gateway/internal/llm"
	"github.com/raine/reellytics-gateway/internal/metrics"
	"github.com/raine/reellytics-gateway/internal/storage"
	"github.com/raine/reellytics-gateway/internal/web"
)

// historyLimit bounds GET /history.
const historyLimit = 200

var validate = validator.New()

type ctxKey struct{}

// ChatLog is the chat message storage the service needs.
type ChatLog interface {
	storage.ChatLogStore
	ListAllMessages(ctx context.Context, email string, limit int) ([]storage.ChatMessage, error)
}

type Options struct {
	Tokens      storage.UserTokenStore
	ChatLog     ChatLog
	Responder   llm.Responder
	CORSOrigins []string
}

type Service struct {
	tokens      storage.UserTokenStore
	chatLog     ChatLog
	responder   llm.Responder
	corsOrigins []string

	now          func() time.Time
	newSessionID func() string
}

func New(opts Options) *Service {
	return &Service{
		tokens:       opts.Tokens,
		chatLog:      opts.ChatLog,
		responder:    opts.Responder,
		corsOrigins:  opts.CORSOrigins,
		now:          time.Now,
		newSessionID: uuid.NewString,
	}
}

func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(web.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.RequireAccessToken)
		r.Post("/chat", s.handleChat)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/history", s.handleHistory)
	})

	return r
}

// RequireAccessToken accepts the access token either raw or with a Bearer
// prefix and rejects tokens that are unknown or expired.
func (s *Service) RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token := header
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = strings.TrimSpace(after)
		}
		if token == "" {
			web.WriteError(w, http.StatusUnauthorized, "missing access token")
			return
		}

		user, err := s.tokens.FindByAccessToken(r.Context(), token)
		if err != nil {
			log.Error().Err(err).Msg("access token lookup failed")
			web.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			web.WriteError(w, http.StatusUnauthorized, "invalid access token")
			return
		}
		if !s.now().Before(user.AccessTokenExpiresAt) {
			web.WriteError(w, http.StatusUnauthorized, "access token expired")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, user.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EmailFromContext returns the email of the authorized caller.
func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(ctxKey{}).(string)
	return email
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := EmailFromContext(ctx)

	var req apiclient.ChatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	sessionID := req.SessionID
	var history []llm.Turn
	if sessionID == "" {
		sessionID = s.newSessionID()
	} else {
		earlier, err := s.chatLog.ListMessages(ctx, email, sessionID)
		if err != nil {
			log.Error().Err(err).Str("sessionID", sessionID).Msg("failed to load chat history")
			web.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		for _, m := range earlier {
			history = append(history, llm.Turn{FromUser: m.Sender == storage.SenderUser, Text: m.Text})
		}
	}

	res, err := s.responder.Reply(ctx, llm.ChatInput{Query: req.Query, History: history, Metrics: req.Metrics})
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("failed to generate reply")
		web.WriteError(w, http.StatusBadGateway, "could not generate an answer")
		return
	}

	for _, m := range []*storage.ChatMessage{
		{SessionID: sessionID, Sender: storage.SenderUser, Text: req.Query},
		{SessionID: sessionID, Sender: storage.SenderAssistant, Text: res.Text},
	} {
		if err := s.chatLog.AppendMessage(ctx, email, m); err != nil {
			log.Error().Err(err).Str("sessionID", sessionID).Msg("failed to append chat message")
		}
	}

	web.WriteJSON(w, http.StatusOK, apiclient.ChatResponse{Result: res.Text, SessionID: sessionID})
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req apiclient.AnalyzeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := s.responder.Analyze(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("failed to analyze metrics")
		web.WriteError(w, http.StatusBadGateway, "could not analyze metrics")
		return
	}
	web.WriteJSON(w, http.StatusOK, apiclient.AnalyzeResponse{Status: "success", Result: res.Text})
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.chatLog.ListAllMessages(r.Context(), EmailFromContext(r.Context()), historyLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list chat history")
		web.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]apiclient.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		out = append(out, apiclient.HistoryEntry{SessionID: m.SessionID, Sender: m.Sender, Text: m.Text, CreatedAt: m.CreatedAt})
	}
	web.WriteJSON(w, http.StatusOK, apiclient.HistoryResponse{Result: out})
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := web.DecodeJSON(r, v); err != nil {
		web.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		web.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
