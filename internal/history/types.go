package history

import (
	"context"
	"time"
)

// GameRecord stores the outcome of one completed quiz session.
type GameRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Theme          string    `json:"theme"`
	Score          int       `json:"score"`
	SongsCompleted int       `json:"songs_completed"`
	ReplayCount    int       `json:"replay_count"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Store persists and retrieves completed games.
type Store interface {
	SaveResult(ctx context.Context, record GameRecord) error
	Recent(ctx context.Context, userID string, limit int) ([]GameRecord, error)
	Close() error
}
