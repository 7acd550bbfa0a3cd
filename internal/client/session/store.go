package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Persisted keys. They are written and cleared together.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUserData     = "userData"
)

// Record is the raw persisted session. Any field may be empty when the
// underlying storage was tampered with or written by an older client.
type Record struct {
	AccessToken  string
	RefreshToken string
	UserData     string
}

func (r Record) complete() bool {
	return r.AccessToken != "" && r.RefreshToken != "" && r.UserData != ""
}

func (r Record) empty() bool {
	return r.AccessToken == "" && r.RefreshToken == "" && r.UserData == ""
}

// Store persists a Record as one unit.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, r Record) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (m *MemoryStore) Load(context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Record{
		AccessToken:  m.values[KeyAccessToken],
		RefreshToken: m.values[KeyRefreshToken],
		UserData:     m.values[KeyUserData],
	}, nil
}

func (m *MemoryStore) Save(_ context.Context, r Record) error {
	if !r.complete() {
		return ErrIncompleteSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = map[string]string{
		KeyAccessToken:  r.AccessToken,
		KeyRefreshToken: r.RefreshToken,
		KeyUserData:     r.UserData,
	}
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = map[string]string{}
	return nil
}

// Set writes a single key, bypassing the all-or-nothing rule. It exists to
// simulate storage written by something other than this package.
func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// SQLiteStore keeps the session in a small SQLite file shared by every
// process of the same user.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS session (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`

// OpenSQLiteStore opens (or creates) the session database at path. Use
// ":memory:" for a throwaway store.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers inside this process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session`)
	if err != nil {
		return Record{}, fmt.Errorf("failed to load session: %w", err)
	}
	defer rows.Close()

	var r Record
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Record{}, fmt.Errorf("failed to scan session row: %w", err)
		}
		switch key {
		case KeyAccessToken:
			r.AccessToken = value
		case KeyRefreshToken:
			r.RefreshToken = value
		case KeyUserData:
			r.UserData = value
		}
	}
	if err := rows.Err(); err != nil {
		return Record{}, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return r, nil
}

// Save replaces the stored session in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	if !r.complete() {
		return ErrIncompleteSession
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	for _, kv := range [][2]string{
		{KeyAccessToken, r.AccessToken},
		{KeyRefreshToken, r.RefreshToken},
		{KeyUserData, r.UserData},
	} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO session (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to write session[%s]: %w", kv[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// ErrIncompleteSession is returned when a session is missing one of its
// three parts.
var ErrIncompleteSession = errors.New("session: access token, refresh token and user data are all required")
