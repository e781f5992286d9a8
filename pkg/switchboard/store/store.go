// Package store keeps chat sessions and their messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/ids"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultDSN keeps everything in memory for the life of the process.
const DefaultDSN = ":memory:"

// DefaultTitle is used by GetOrCreate and AddMessage for sessions they create.
const DefaultTitle = "Session"

// ErrNotFound is returned for operations on a session that does not exist.
var ErrNotFound = errors.New("session not found")

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message is one entry in a session transcript.
type Message struct {
	MessageID string    `json:"messageId"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a conversation with its full transcript.
type Session struct {
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// Summary is the list view of a session.
type Summary struct {
	SessionID    string    `json:"sessionId"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
}

// Store is a SQLite-backed session store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (and if needed initialises) the database at dsn. An empty dsn
// means DefaultDSN.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database, and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Session store initialized", zap.String("dsn", dsn))
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			title      TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role       TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant', 'system', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create adds a new session with a generated id.
func (s *Store) Create(ctx context.Context, title string) (*Session, error) {
	session := &Session{
		SessionID: ids.New(ids.SessionPrefix),
		Title:     title,
		CreatedAt: now(),
		Messages:  []Message{},
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at) VALUES (?, ?, ?)`,
		session.SessionID, session.Title, formatTime(session.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("Session created", zap.String("session_id", session.SessionID))
	return session, nil
}

// GetOrCreate returns the session with id, creating it with title if it
// does not exist yet.
func (s *Store) GetOrCreate(ctx context.Context, id, title string) (*Session, error) {
	if err := s.ensure(ctx, id, title); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Store) ensure(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, title, created_at) VALUES (?, ?, ?)`,
		id, title, formatTime(now()))
	if err != nil {
		return fmt.Errorf("creating session %s: %w", id, err)
	}
	return nil
}

// List returns every session in creation order with its message count.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.created_at, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.seq
		ORDER BY s.seq`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		var createdAt string
		if err := rows.Scan(&sum.SessionID, &sum.Title, &createdAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if sum.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Get returns the session with its transcript, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	session := &Session{SessionID: id, Messages: []Message{}}

	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT title, created_at FROM sessions WHERE id = ?`, id).
		Scan(&session.Title, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, created_at FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		msg := Message{SessionID: id}
		var role, createdAt string
		if err := rows.Scan(&msg.MessageID, &role, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = Role(role)
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return session, nil
}

// Rename changes a session title and returns the updated session, or
// ErrNotFound.
func (s *Store) Rename(ctx context.Context, id, title string) (*Session, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return nil, fmt.Errorf("renaming session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// AddMessage appends a message to a session, creating the session with
// DefaultTitle if it does not exist.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role Role, text string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if err := s.ensure(ctx, sessionID, DefaultTitle); err != nil {
		return nil, err
	}

	msg := &Message{
		MessageID: ids.New(ids.MessagePrefix),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.MessageID, msg.SessionID, string(msg.Role), msg.Text, formatTime(msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("adding message to %s: %w", sessionID, err)
	}

	return msg, nil
}

func now() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
