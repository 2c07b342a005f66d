package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mcclowes/soundcheck/internal/observability"
	"github.com/mcclowes/soundcheck/internal/playback"
	"github.com/mcclowes/soundcheck/internal/spotify"
)

// DeviceLister is the slice of the provider client the device route needs.
type DeviceLister interface {
	Devices(ctx context.Context, accessToken string) ([]spotify.Device, error)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	tok, ok := s.vault.Get(sessionID)
	if !ok {
		respondError(w, http.StatusUnauthorized, "not_authenticated", "no valid token for session")
		return
	}
	start := time.Now()
	devices, err := s.devices.Devices(r.Context(), tok.AccessToken)
	if err != nil {
		s.respondPlaybackError(w, err)
		return
	}
	s.metrics.ObserveStage(observability.StageDeviceLookup, time.Since(start))
	respondJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

type playRequest struct {
	SessionID string `json:"session_id"`
	TrackURI  string `json:"track_uri"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := s.sessions.Get(strings.TrimSpace(req.SessionID)); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	controller := s.playbacks.Controller(req.SessionID)
	if err := controller.PlayClip(r.Context(), req.TrackURI); err != nil {
		s.respondPlaybackError(w, err)
		return
	}
	_, _ = s.sessions.RecordClip(req.SessionID, strings.TrimSpace(req.TrackURI))
	respondJSON(w, http.StatusOK, controller.State())
}

type stopRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := s.sessions.Get(strings.TrimSpace(req.SessionID)); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	controller := s.playbacks.Controller(req.SessionID)
	if err := controller.Stop(r.Context()); err != nil {
		s.respondPlaybackError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, controller.State())
}

func (s *Server) respondPlaybackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrNotAuthenticated), errors.Is(err, spotify.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "not_authenticated", err.Error())
	case errors.Is(err, spotify.ErrNoDevice):
		respondError(w, http.StatusConflict, "no_device", err.Error())
	default:
		s.metrics.ProviderErrors.WithLabelValues("spotify", "http").Inc()
		respondError(w, http.StatusBadGateway, "playback_failed", err.Error())
	}
}
