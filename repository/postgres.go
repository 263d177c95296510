package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/kiliantyler/kil.dev-sub000/models"
)

const uniqueViolation = "23505"

func ConnectToPostgreSQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL")
	return db, nil
}

// ScoreArchive keeps every accepted leaderboard submission, including the
// ones later trimmed off the board.
type ScoreArchive struct {
	db *sql.DB
}

func NewScoreArchive(db *sql.DB) *ScoreArchive {
	return &ScoreArchive{db: db}
}

func (a *ScoreArchive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS leaderboard_submissions (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		score INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create leaderboard_submissions: %w", err)
	}
	return nil
}

// Save records entry. A duplicate id is treated as already archived.
func (a *ScoreArchive) Save(ctx context.Context, entry models.LeaderboardEntry, sessionID string, position int) error {
	submittedAt := time.UnixMilli(entry.Timestamp).UTC()
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO leaderboard_submissions (id, name, score, session_id, position, submitted_at) VALUES ($1, $2, $3, $4, $5, $6)",
		entry.ID, entry.Name, entry.Score, sessionID, position, submittedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Recent returns the latest archived submissions, newest first.
func (a *ScoreArchive) Recent(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT id, name, score, submitted_at FROM leaderboard_submissions ORDER BY submitted_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		var at time.Time
		if err := rows.Scan(&e.ID, &e.Name, &e.Score, &at); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		e.Timestamp = at.UnixMilli()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return entries, nil
}
