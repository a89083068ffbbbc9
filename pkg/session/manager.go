// Package session maps chat scopes (channel + chat id) to agent sessions.
// Each session owns a git worktree named after its id, so the set of active
// session ids recorded here drives the worktree staleness sweep.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/forgebot/forgebot/pkg/logger"
)

// Session binds a chat scope to a session id and its owning user.
type Session struct {
	ID        string
	Scope     string
	UserID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Manager persists sessions in SQLite. One session is active per scope at a
// time; starting a new one replaces the scope's active session.
type Manager struct {
	db *sql.DB
}

func NewManager(dbPath string) (*Manager, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	m := &Manager{db: db}
	if err := m.init(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) init() error {
	_, err := m.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// Resolve returns the scope's active session, creating one when none exists.
func (m *Manager) Resolve(ctx context.Context, scope string, userID int64) (Session, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT id, scope, user_id, created_at, updated_at FROM sessions WHERE scope=?", scope)

	var s Session
	err := row.Scan(&s.ID, &s.Scope, &s.UserID, &s.CreatedAt, &s.UpdatedAt)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("failed to look up session: %w", err)
	}

	return m.create(ctx, scope, userID)
}

// StartNew replaces the scope's active session with a fresh one. The old
// session id becomes inactive and its worktree is eligible for the next
// staleness sweep.
func (m *Manager) StartNew(ctx context.Context, scope string, userID int64) (Session, error) {
	if _, err := m.db.ExecContext(ctx, "DELETE FROM sessions WHERE scope=?", scope); err != nil {
		return Session{}, fmt.Errorf("failed to retire session: %w", err)
	}
	return m.create(ctx, scope, userID)
}

func (m *Manager) create(ctx context.Context, scope string, userID int64) (Session, error) {
	now := time.Now().UTC()
	s := Session{
		ID:        uuid.NewString(),
		Scope:     scope,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := m.db.ExecContext(ctx,
		"INSERT INTO sessions (id, scope, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		s.ID, s.Scope, s.UserID, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	logger.InfoCF("session", "Session created", map[string]any{
		"session_id": s.ID,
		"scope":      scope,
		"user_id":    userID,
	})
	return s, nil
}

// Touch bumps a session's activity timestamp.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	_, err := m.db.ExecContext(ctx,
		"UPDATE sessions SET updated_at=? WHERE id=?", time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// ActiveSessionIDs returns the ids of every live session, the set the
// worktree staleness sweep diffs against.
func (m *Manager) ActiveSessionIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT id FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// UserSessionIDs returns the session ids owned by one user, for per-user
// worktree caps.
func (m *Manager) UserSessionIDs(ctx context.Context, userID int64) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT id FROM sessions WHERE user_id=?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}
