package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/mcclowes/soundcheck/internal/auth"
)

type callbackRequest struct {
	SessionID string `json:"session_id"`
	Fragment  string `json:"fragment"`
}

type callbackResponse struct {
	QuizToken string    `json:"quiz_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin redirects the browser to the external authorization endpoint.
// The session ID rides along as OAuth state so the callback can be matched.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SpotifyClientID == "" {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "SPOTIFY_CLIENT_ID is not set")
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	target := auth.AuthorizeURL(s.cfg.SpotifyAccountsURL, s.cfg.SpotifyClientID, s.cfg.SpotifyRedirectURI, s.cfg.SpotifyScopes, sessionID)
	http.Redirect(w, r, target, http.StatusFound)
}

// handleCallback accepts the OAuth redirect fragment fields from the browser.
// The browser strips the fragment from its visible URL before posting it here,
// so the token never leaks through referrer headers or history. A malformed
// fragment leaves the session unauthenticated with a 401, nothing more.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.sessions.Get(strings.TrimSpace(req.SessionID))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	now := time.Now().UTC()
	tok, ok := auth.ParseFragment(req.Fragment, now)
	if !ok {
		s.metrics.SessionEvents.WithLabelValues("auth_rejected").Inc()
		respondError(w, http.StatusUnauthorized, "invalid_fragment", "authentication response was malformed or missing")
		return
	}

	s.vault.Put(sess.ID, tok)
	_ = s.sessions.Touch(sess.ID)
	s.metrics.SessionEvents.WithLabelValues("authenticated").Inc()

	quizToken, err := auth.MintQuizToken(s.cfg.QuizTokenSecret, sess.ID, s.cfg.QuizTokenTTL, now)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token_mint_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, callbackResponse{
		QuizToken: quizToken,
		ExpiresAt: tok.ExpiresAt,
	})
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.vault.Clear(strings.TrimSpace(req.SessionID))
	s.metrics.SessionEvents.WithLabelValues("logged_out").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleAuthConfig reports whether credentials are present so the client can
// show a static configuration error instead of a broken login flow.
func (s *Server) handleAuthConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"configured":    s.cfg.Configured(),
		"spotify_ready": s.cfg.SpotifyClientID != "",
		"agent_ready":   s.cfg.AgentID != "",
	})
}
