package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mcclowes/soundcheck/internal/auth"
	"github.com/mcclowes/soundcheck/internal/config"
	"github.com/mcclowes/soundcheck/internal/history"
	"github.com/mcclowes/soundcheck/internal/observability"
	"github.com/mcclowes/soundcheck/internal/playback"
	"github.com/mcclowes/soundcheck/internal/protocol"
	"github.com/mcclowes/soundcheck/internal/session"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	vault        *auth.Vault
	playbacks    *playback.Registry
	devices      DeviceLister
	historyStore history.Store
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(
	cfg config.Config,
	sessions *session.Manager,
	orchestrator Orchestrator,
	vault *auth.Vault,
	playbacks *playback.Registry,
	devices DeviceLister,
	historyStore history.Store,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		vault:        vault,
		playbacks:    playbacks,
		devices:      devices,
		historyStore: historyStore,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin so another site cannot drive a quiz session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/auth/login", s.handleLogin)
	r.Post("/v1/auth/callback", s.handleCallback)
	r.Post("/v1/auth/logout", s.handleLogout)
	r.Get("/v1/auth/config", s.handleAuthConfig)

	r.Post("/v1/quiz/session", s.handleCreateSession)
	r.Post("/v1/quiz/session/{id}/end", s.handleEndSession)
	r.Get("/v1/quiz/session/ws", s.handleSessionWS)

	r.Get("/v1/playback/devices", s.handleDevices)
	r.Post("/v1/playback/play", s.handlePlay)
	r.Post("/v1/playback/stop", s.handleStop)

	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"configured": s.cfg.Configured(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"configured": s.cfg.Configured(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Configured() {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "missing spotify or agent credentials")
		return
	}

	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID, strings.TrimSpace(req.Theme), req.Playlist)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Theme:           sess.Progress.Theme,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.finishSession(r.Context(), sess)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

// finishSession releases session resources and persists the game outcome.
func (s *Server) finishSession(ctx context.Context, sess *session.Session) {
	s.vault.Clear(sess.ID)
	s.playbacks.Remove(ctx, sess.ID)
	if s.historyStore == nil {
		return
	}
	_ = s.historyStore.SaveResult(ctx, history.GameRecord{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		Theme:          sess.Progress.Theme,
		Score:          sess.Progress.Score,
		SongsCompleted: sess.Progress.SongsCompleted,
		ReplayCount:    sess.Progress.ReplayCount,
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	quizToken := strings.TrimSpace(r.URL.Query().Get("quiz_token"))
	if quizToken == "" {
		respondError(w, http.StatusBadRequest, "missing_quiz_token", "query parameter quiz_token is required")
		return
	}
	sessionID, err := auth.VerifyQuizToken(s.cfg.QuizTokenSecret, quizToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_quiz_token", err.Error())
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the
				// outbound queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.PerfSnapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientGuess:
		return m.Type, true
	case protocol.StateSnapshot:
		return m.Type, true
	case protocol.ToolCallTrace:
		return m.Type, true
	case protocol.AgentEvent:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
