package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the soundcheck quiz service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	SpotifyClientID    string
	SpotifyRedirectURI string
	SpotifyAccountsURL string
	SpotifyAPIBaseURL  string
	SpotifyScopes      string

	AgentID        string
	AgentAPIKey    string
	AgentWSBaseURL string

	ClipDuration      time.Duration
	ClipStartOffset   time.Duration
	TokenSafetyBuffer time.Duration
	QuizTokenSecret   string
	QuizTokenTTL      time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "soundcheck"),
		AllowAnyOrigin:     false,
		SpotifyClientID:    envTrimmed("SPOTIFY_CLIENT_ID"),
		SpotifyRedirectURI: envOrDefault("SPOTIFY_REDIRECT_URI", "http://localhost:8080/callback"),
		SpotifyAccountsURL: envOrDefault("SPOTIFY_ACCOUNTS_URL", "https://accounts.spotify.com"),
		SpotifyAPIBaseURL:  envOrDefault("SPOTIFY_API_BASE_URL", "https://api.spotify.com"),
		// Playback control needs the streaming + playback-state scopes.
		SpotifyScopes:   envOrDefault("SPOTIFY_SCOPES", "streaming user-read-playback-state user-modify-playback-state"),
		AgentID:         envTrimmed("AGENT_ID"),
		AgentAPIKey:     envTrimmed("AGENT_API_KEY"),
		AgentWSBaseURL:  envOrDefault("AGENT_WS_BASE_URL", "wss://api.elevenlabs.io"),
		QuizTokenSecret: envTrimmed("QUIZ_TOKEN_SECRET"),
		DatabaseURL:     envTrimmed("DATABASE_URL"),
		// Guessing rounds play a short excerpt from partway into the track.
		ClipDuration:    5 * time.Second,
		ClipStartOffset: 30 * time.Second,
		// Tokens closer to expiry than this are treated as absent so a
		// playback call never starts with a token likely to die mid-flight.
		TokenSafetyBuffer: 5 * time.Minute,
		QuizTokenTTL:      time.Hour,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ClipDuration, err = durationFromEnv("CLIP_DURATION", cfg.ClipDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.ClipStartOffset, err = durationFromEnv("CLIP_START_OFFSET", cfg.ClipStartOffset)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenSafetyBuffer, err = durationFromEnv("TOKEN_SAFETY_BUFFER", cfg.TokenSafetyBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.QuizTokenTTL, err = durationFromEnv("QUIZ_TOKEN_TTL", cfg.QuizTokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ClipDuration <= 0 {
		return Config{}, fmt.Errorf("CLIP_DURATION must be positive")
	}
	if cfg.ClipStartOffset < 0 {
		return Config{}, fmt.Errorf("CLIP_START_OFFSET must be >= 0")
	}
	if cfg.TokenSafetyBuffer < 0 {
		return Config{}, fmt.Errorf("TOKEN_SAFETY_BUFFER must be >= 0")
	}
	// A configured deployment cannot finish the auth callback without the
	// signing secret, so fail at startup instead of 500ing on every login.
	if cfg.Configured() && cfg.QuizTokenSecret == "" {
		return Config{}, fmt.Errorf("QUIZ_TOKEN_SECRET is required when SPOTIFY_CLIENT_ID and AGENT_ID are set")
	}

	return cfg, nil
}

// Configured reports whether the external credentials needed to run a quiz
// are present. Missing credentials block entry to the quiz routes.
func (c Config) Configured() bool {
	return c.SpotifyClientID != "" && c.AgentID != ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
