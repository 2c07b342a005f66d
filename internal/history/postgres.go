package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists completed games in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS game_results (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			theme TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL,
			songs_completed INTEGER NOT NULL,
			replay_count INTEGER NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_game_results_user_finished ON game_results (user_id, finished_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, record GameRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO game_results (id, session_id, user_id, theme, score, songs_completed, replay_count, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.SessionID,
		record.UserID,
		record.Theme,
		record.Score,
		record.SongsCompleted,
		record.ReplayCount,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]GameRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, theme, score, songs_completed, replay_count, finished_at
		 FROM game_results WHERE user_id=$1 ORDER BY finished_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent games: %w", err)
	}
	defer rows.Close()

	items := make([]GameRecord, 0, limit)
	for rows.Next() {
		var r GameRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.Theme, &r.Score, &r.SongsCompleted, &r.ReplayCount, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan game row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate game rows: %w", err)
	}

	// Reverse into chronological order for display.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
