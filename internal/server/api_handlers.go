package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/reellytics-gateway/internal/apiclient"
	"github.com/raine/reellytics-gateway/internal/auth"
	"github.com/raine/reellytics-gateway/internal/metrics"
	"github.com/raine/reellytics-gateway/internal/web"
)

const upstreamFailureMessage = "The chat service is currently unavailable. Please try again later."

type chatSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	MessageCount  int       `json:"messageCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

type chatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body apiclient.ChatRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}

	rs, err := s.resolve(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	res, err := s.api.Chat(r.Context(), rs.current(), body)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body apiclient.AnalyzeRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}

	rs, err := s.resolve(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	res, err := s.api.Analyze(r.Context(), rs.current(), body)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rs, err := s.resolve(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	res, err := s.api.History(r.Context(), rs.current())
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	web.WriteJSON(w, http.StatusOK, res)
}

// handleListChats lists the signed-in user's chat sessions from the chat log.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	email, ok := s.signedInEmail(w, r)
	if !ok {
		return
	}

	sessions, err := s.chatLog.ListChatSessions(r.Context(), email)
	if err != nil {
		log.Error().Err(err).Msg("failed to list chat sessions")
		web.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]chatSummary, 0, len(sessions))
	for _, cs := range sessions {
		out = append(out, chatSummary{ID: cs.ID, Title: cs.Title, MessageCount: cs.MessageCount, LastMessageAt: cs.LastMessageAt})
	}
	web.WriteJSON(w, http.StatusOK, map[string]any{"chats": out})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	email, ok := s.signedInEmail(w, r)
	if !ok {
		return
	}

	messages, err := s.chatLog.ListMessages(r.Context(), email, chi.URLParam(r, "id"))
	if err != nil {
		log.Error().Err(err).Msg("failed to list chat messages")
		web.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(messages) == 0 {
		web.WriteError(w, http.StatusNotFound, "chat not found")
		return
	}

	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{ID: m.ID, Sender: m.Sender, Text: m.Text, CreatedAt: m.CreatedAt})
	}
	web.WriteJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// signedInEmail resolves the session and returns its user's email. Errored
// sessions are rejected like missing ones.
func (s *Server) signedInEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.chatLog == nil {
		web.WriteError(w, http.StatusNotFound, "chat log not available")
		return "", false
	}
	rs, err := s.resolve(r)
	if err != nil {
		s.writeAuthError(w, err)
		return "", false
	}
	ts := rs.current()
	if !ts.Usable() || ts.User.Email == "" {
		web.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return "", false
	}
	return ts.User.Email, true
}

// writeAPIError maps chat API failures to responses. Upstream details are
// logged, never returned to the browser.
func (s *Server) writeAPIError(w http.ResponseWriter, err error) {
	var upstream *apiclient.UpstreamError
	var network *apiclient.NetworkError

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		web.WriteError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.As(err, &upstream):
		metrics.UpstreamFailures.WithLabelValues("upstream").Inc()
		log.Error().Int("status", upstream.Status).Str("path", upstream.Path).Str("body", upstream.Body).Msg("chat api request failed")
		web.WriteError(w, http.StatusBadGateway, upstreamFailureMessage)
	case errors.As(err, &network):
		metrics.UpstreamFailures.WithLabelValues("network").Inc()
		web.WriteError(w, http.StatusBadGateway, upstreamFailureMessage)
	default:
		log.Error().Err(err).Msg("chat api request failed")
		web.WriteError(w, http.StatusInternalServerError, "internal error")
	}
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
