package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcclowes/soundcheck/internal/agent"
	"github.com/mcclowes/soundcheck/internal/auth"
	"github.com/mcclowes/soundcheck/internal/config"
	"github.com/mcclowes/soundcheck/internal/game"
	"github.com/mcclowes/soundcheck/internal/history"
	"github.com/mcclowes/soundcheck/internal/httpapi"
	"github.com/mcclowes/soundcheck/internal/observability"
	"github.com/mcclowes/soundcheck/internal/playback"
	"github.com/mcclowes/soundcheck/internal/session"
	"github.com/mcclowes/soundcheck/internal/spotify"
)

type AgentInfo struct {
	Provider string
	AgentID  string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *game.Orchestrator
	Metrics      *observability.Metrics
	Agent        AgentInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the full service graph from configuration. cmd/soundcheck and
// integration tests share this so the wiring cannot drift between them.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	historyStore, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	spotifyClient := spotify.NewClient(cfg.SpotifyAPIBaseURL)
	vault := auth.NewVault(cfg.TokenSafetyBuffer)
	playbacks := playback.NewRegistry(spotifyClient, func(sessionID string) (string, bool) {
		tok, ok := vault.Get(sessionID)
		if !ok {
			return "", false
		}
		return tok.AccessToken, true
	}, cfg.ClipDuration, cfg.ClipStartOffset)

	var (
		dialer   agent.Dialer
		provider string
	)
	if strings.TrimSpace(cfg.AgentID) == "" || strings.TrimSpace(cfg.AgentAPIKey) == "" {
		dialer = agent.NewMockDialer()
		provider = "mock"
	} else {
		dialer = agent.NewElevenLabsDialer(agent.ElevenLabsConfig{
			APIKey:    cfg.AgentAPIKey,
			WSBaseURL: cfg.AgentWSBaseURL,
		})
		provider = "elevenlabs"
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(sess *session.Session) {
		vault.Clear(sess.ID)
		playbacks.Remove(ctx, sess.ID)
		_ = historyStore.SaveResult(ctx, history.GameRecord{
			SessionID:      sess.ID,
			UserID:         sess.UserID,
			Theme:          sess.Progress.Theme,
			Score:          sess.Progress.Score,
			SongsCompleted: sess.Progress.SongsCompleted,
			ReplayCount:    sess.Progress.ReplayCount,
		})
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	orchestrator := game.NewOrchestrator(sessions, dialer, cfg.AgentID, playbacks, metrics)
	api := httpapi.New(cfg, sessions, orchestrator, vault, playbacks, spotifyClient, historyStore, metrics)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Agent: AgentInfo{
			Provider: provider,
			AgentID:  cfg.AgentID,
		},
		Cleanup: historyStore.Close,
	}, nil
}
