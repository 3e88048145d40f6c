// Package store persists conversation turns in Postgres. The table is
// append-only: a turn is inserted once after its pipeline run and never
// updated.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// ConversationTurn is one user-utterance-to-AI-response exchange. ID and
// CreatedAt are assigned by the database at insert time; a turn held only in
// memory leaves them nil.
type ConversationTurn struct {
	ID             *int64     `json:"id,omitempty"`
	SessionID      string     `json:"session_id"`
	UserTranscript *string    `json:"user_transcript,omitempty"`
	AIResponse     *string    `json:"ai_response,omitempty"`
	UserTimestamp  *time.Time `json:"user_timestamp,omitempty"`
	AITimestamp    *time.Time `json:"ai_timestamp,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// Store wraps a pooled database handle.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to Postgres via the pgx driver and configures the pool.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)
	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id BIGSERIAL PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    user_transcript TEXT,
    ai_response TEXT,
    user_timestamp TIMESTAMPTZ NULL,
    ai_timestamp TIMESTAMPTZ NULL,
    created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
)`

const createIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_conversations_session_id ON conversations (session_id)`

// Init creates the conversations table and its session index if they do not
// exist. Both statements are idempotent, so concurrent startups are safe
// without coordination.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("create session index: %w", err)
	}
	s.logger.Info("database schema ensured")
	return nil
}

const insertTurnSQL = `
INSERT INTO conversations (session_id, user_transcript, ai_response, user_timestamp, ai_timestamp)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, session_id, user_transcript, ai_response, user_timestamp, ai_timestamp, created_at`

// AddTurn inserts one turn and returns the persisted row, including the
// database-assigned id and creation time.
func (s *Store) AddTurn(ctx context.Context, turn ConversationTurn) (*ConversationTurn, error) {
	row := s.db.QueryRowContext(ctx, insertTurnSQL,
		turn.SessionID, turn.UserTranscript, turn.AIResponse, turn.UserTimestamp, turn.AITimestamp)
	saved, err := scanTurn(row)
	if err != nil {
		return nil, fmt.Errorf("insert conversation turn: %w", err)
	}
	s.logger.Info("conversation turn saved",
		zap.Int64p("id", saved.ID), zap.String("session_id", saved.SessionID))
	return saved, nil
}

const historySQL = `
SELECT id, session_id, user_transcript, ai_response, user_timestamp, ai_timestamp, created_at
FROM conversations
WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

// HistoryTurns returns up to limit most recent turns for a session,
// re-ordered to chronological (oldest-first) before returning.
func (s *Store) HistoryTurns(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, historySQL, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []ConversationTurn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		turns = append(turns, *turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	// Rows arrive newest-first; reverse in place for replay order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Ping checks pool connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*ConversationTurn, error) {
	var (
		turn       ConversationTurn
		transcript sql.NullString
		response   sql.NullString
		userTS     sql.NullTime
		aiTS       sql.NullTime
		createdAt  sql.NullTime
		id         int64
	)
	if err := row.Scan(&id, &turn.SessionID, &transcript, &response, &userTS, &aiTS, &createdAt); err != nil {
		return nil, err
	}
	turn.ID = &id
	if transcript.Valid {
		turn.UserTranscript = &transcript.String
	}
	if response.Valid {
		turn.AIResponse = &response.String
	}
	if userTS.Valid {
		turn.UserTimestamp = &userTS.Time
	}
	if aiTS.Valid {
		turn.AITimestamp = &aiTS.Time
	}
	if createdAt.Valid {
		turn.CreatedAt = &createdAt.Time
	}
	return &turn, nil
}
