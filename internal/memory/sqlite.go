package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so that string order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// SQLiteStore is the SQLite-backed session store.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing; defaults to time.Now
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	s, err := NewStoreFromDB(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreFromDB wraps an open database and migrates it. The caller keeps
// ownership of db only if this returns an error.
func NewStoreFromDB(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS sessions (
		session_id  TEXT PRIMARY KEY,
		created_at  TEXT NOT NULL,
		last_active TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content    TEXT NOT NULL,
		timestamp  TEXT NOT NULL,
		metadata   TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession allocates a new session with created_at and last_active
// set to now.
func (s *SQLiteStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	now := formatTime(s.nowFunc())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, last_active) VALUES (?, ?, ?)`,
		id, now, now)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", "session_id", id)
	return id, nil
}

// SessionExists reports whether id names a stored session.
func (s *SQLiteStore) SessionExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return true, nil
}

// SaveMessage appends a message and bumps the session's last_active in
// one transaction. Empty metadata is stored as NULL.
func (s *SQLiteStore) SaveMessage(ctx context.Context, id string, role Role, content string, metadata map[string]any) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	var meta sql.NullString
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode message metadata: %w", err)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save message: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}

	now := formatTime(s.nowFunc())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, timestamp, metadata) VALUES (?, ?, ?, ?, ?)`,
		id, string(role), content, now, meta); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active = max(last_active, ?) WHERE session_id = ?`,
		now, id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save message: %w", err)
	}
	s.logger.Debug("message saved", "session_id", id, "role", role)
	return nil
}

// GetHistory returns the limit most recent messages in chronological
// order. A limit of zero returns no messages; a negative limit
// ([AllMessages]) returns every message.
func (s *SQLiteStore) GetHistory(ctx context.Context, id string, limit int) ([]Message, error) {
	ok, err := s.SessionExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if limit == 0 {
		return []Message{}, nil
	}
	if limit < 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp, metadata
		FROM messages
		WHERE session_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m    Message
			role string
			ts   string
			meta sql.NullString
		)
		if err := rows.Scan(&role, &m.Content, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse message timestamp %q: %w", ts, err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	slices.Reverse(msgs)
	return msgs, nil
}

// GetSession returns one session's metadata.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.session_id, s.created_at, s.last_active, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.session_id
		WHERE s.session_id = ?
		GROUP BY s.session_id`, id)
	meta, err := scanSessionMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// ListSessions returns every session, most recently active first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.created_at, s.last_active, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.last_active DESC, s.session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionMeta
	for rows.Next() {
		meta, err := scanSessionMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSessionMeta(sc scanner) (*SessionMeta, error) {
	var (
		meta                SessionMeta
		created, lastActive string
	)
	if err := sc.Scan(&meta.ID, &created, &lastActive, &meta.MessageCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	var err error
	if meta.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	if meta.LastActive, err = parseTime(lastActive); err != nil {
		return nil, fmt.Errorf("parse last_active %q: %w", lastActive, err)
	}
	return &meta, nil
}

// DeleteSession removes a session and its messages. It reports whether
// the session existed; deleting a missing session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete session: %w", err)
	}

	if n > 0 {
		s.logger.Info("session deleted", "session_id", id)
	}
	return n > 0, nil
}

// CleanupExpired removes every session idle for longer than timeout,
// with its messages, and returns how many sessions were removed. A zero
// timeout removes every session last active before now.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout < 0 {
		return 0, fmt.Errorf("cleanup timeout must not be negative, got %s", timeout)
	}
	cutoff := formatTime(s.nowFunc().Add(-timeout))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id IN (
			SELECT session_id FROM sessions WHERE last_active < ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_active < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}

	if n > 0 {
		s.logger.Info("expired sessions removed", "count", n, "timeout", timeout)
	}
	return int(n), nil
}

var _ SessionStore = (*SQLiteStore)(nil)
