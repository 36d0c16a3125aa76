package ragchat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shaharia-lab/ragchat/observability"
)

// sqlDialect holds the statements that differ between database engines.
type sqlDialect struct {
	name   string
	schema []string
	rebind func(query string) string
}

var postgresDialect = sqlDialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			last_active_ms BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_session_id ON chat_turns (session_id, id)`,
	},
	rebind: func(q string) string { return q },
}

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			last_active_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_session_id ON chat_turns (session_id, id)`,
	},
	rebind: questionMarkPlaceholders,
}

// questionMarkPlaceholders rewrites $1..$n placeholders to ?. Every query in
// this file uses each placeholder once and in ascending order.
func questionMarkPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		b.WriteByte('?')
		for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			i++
		}
	}
	return b.String()
}

const (
	ensureSessionSQL = `INSERT INTO chat_sessions (id, created_at, last_active_ms) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	touchSessionSQL  = `UPDATE chat_sessions SET last_active_ms = $1 WHERE id = $2`
	selectTurnsSQL   = `SELECT question, answer, created_at FROM chat_turns WHERE session_id = $1 ORDER BY id ASC`
	insertTurnSQL    = `INSERT INTO chat_turns (session_id, question, answer, created_at) VALUES ($1, $2, $3, $4)`
	trimTurnsSQL     = `DELETE FROM chat_turns WHERE session_id = $1 AND id NOT IN (SELECT id FROM chat_turns WHERE session_id = $2 ORDER BY id DESC LIMIT $3)`
	deleteTurnsSQL   = `DELETE FROM chat_turns WHERE session_id = $1`
	deleteSessionSQL = `DELETE FROM chat_sessions WHERE id = $1`
	pruneTurnsSQL    = `DELETE FROM chat_turns WHERE session_id IN (SELECT id FROM chat_sessions WHERE last_active_ms < $1)`
	pruneSessionsSQL = `DELETE FROM chat_sessions WHERE last_active_ms < $1`
)

// SQLSessionStore is a SessionStore persisted in a relational database.
// Use NewSQLiteSessionStore or NewPostgresSessionStore to create one.
type SQLSessionStore struct {
	db      *sql.DB
	dialect sqlDialect
	limits  SessionLimits
	mu      sync.Mutex
	logger  observability.Logger
	now     func() time.Time
	pins    pinSet
}

// NewSQLiteSessionStore creates a store on an opened sqlite3 database and initializes its schema.
func NewSQLiteSessionStore(ctx context.Context, db *sql.DB, limits SessionLimits, logger observability.Logger) (*SQLSessionStore, error) {
	return newSQLSessionStore(ctx, db, sqliteDialect, limits, logger)
}

// NewPostgresSessionStore creates a store on an opened postgres database and initializes its schema.
func NewPostgresSessionStore(ctx context.Context, db *sql.DB, limits SessionLimits, logger observability.Logger) (*SQLSessionStore, error) {
	return newSQLSessionStore(ctx, db, postgresDialect, limits, logger)
}

func newSQLSessionStore(ctx context.Context, db *sql.DB, dialect sqlDialect, limits SessionLimits, logger observability.Logger) (*SQLSessionStore, error) {
	if logger == nil {
		logger = observability.NewNullLogger()
	}

	s := &SQLSessionStore{
		db:      db,
		dialect: dialect,
		limits:  limits,
		logger:  logger.WithFields(map[string]interface{}{"store": dialect.name}),
		now:     time.Now,
	}

	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return s, nil
}

func (s *SQLSessionStore) initSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range s.dialect.schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLSessionStore) q(query string) string {
	return s.dialect.rebind(query)
}

// GetHistory implements SessionStore.
func (s *SQLSessionStore) GetHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for reading history: %w", err)
	}
	defer tx.Rollback()

	if err := s.touch(ctx, tx, sessionID, now); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, s.q(selectTurnsSQL), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}

	history := []Turn{}
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.Question, &turn.Answer, &turn.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating turn rows: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit history read: %w", err)
	}

	return trimTurns(history, s.limits.MaxTurns), nil
}

// AppendTurn implements SessionStore.
func (s *SQLSessionStore) AppendTurn(ctx context.Context, sessionID, question, answer string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for adding turn: %w", err)
	}
	defer tx.Rollback()

	if err := s.touch(ctx, tx, sessionID, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.q(insertTurnSQL), sessionID, question, answer, now); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if s.limits.MaxTurns > 0 {
		if _, err := tx.ExecContext(ctx, s.q(trimTurnsSQL), sessionID, sessionID, s.limits.MaxTurns); err != nil {
			return fmt.Errorf("failed to trim turns: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteSession implements SessionStore.
func (s *SQLSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for deleting session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(deleteTurnsSQL), sessionID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(deleteSessionSQL), sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return tx.Commit()
}

// Pin implements SessionPinner. Prune refreshes pinned sessions instead of
// deleting them.
func (s *SQLSessionStore) Pin(sessionID string) func() {
	return s.pins.pin(sessionID)
}

// Prune deletes sessions idle for longer than ttl and returns how many were removed.
func (s *SQLSessionStore) Prune(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-ttl).UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for pruning: %w", err)
	}
	defer tx.Rollback()

	for _, id := range s.pins.ids() {
		if _, err := tx.ExecContext(ctx, s.q(touchSessionSQL), now.UnixMilli(), id); err != nil {
			return 0, fmt.Errorf("failed to refresh pinned session: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.q(pruneTurnsSQL), cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.q(pruneSessionsSQL), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	if removed > 0 {
		s.logger.WithFields(map[string]interface{}{"removed": removed}).Info("pruned idle sessions")
	}
	return removed, nil
}

// Close closes the underlying database.
func (s *SQLSessionStore) Close() error {
	return s.db.Close()
}

func (s *SQLSessionStore) touch(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, s.q(ensureSessionSQL), sessionID, now, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(touchSessionSQL), now.UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}
