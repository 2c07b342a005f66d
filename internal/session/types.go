package session

import (
	"time"

	"github.com/mcclowes/soundcheck/internal/spotify"
)

// CreateRequest defines payload for creating a new quiz session. The optional
// playlist is handed to the agent so its quiz prompt can name real tracks.
type CreateRequest struct {
	UserID   string          `json:"user_id"`
	Theme    string          `json:"theme"`
	Playlist []spotify.Track `json:"playlist,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Theme           string    `json:"theme"`
	QuizToken       string    `json:"quiz_token,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// Song is the currently revealed song of a round.
type Song struct {
	Index    int    `json:"index"`
	TrackURI string `json:"track_uri"`
	Title    string `json:"title,omitempty"`
}

// Progress is the quiz view state of a session. Judging lives in the external
// agent; this is bookkeeping of what the agent reported.
type Progress struct {
	Score             int    `json:"score"`
	SongsCompleted    int    `json:"songs_completed"`
	LastAnswerCorrect *bool  `json:"last_answer_correct,omitempty"`
	CurrentSong       *Song  `json:"current_song,omitempty"`
	ReplayCount       int    `json:"replay_count"`
	Theme             string `json:"theme,omitempty"`
}
