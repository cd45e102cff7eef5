package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redgreen/redgreen-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS results (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	username  TEXT NOT NULL,
	won       INTEGER NOT NULL,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and bootstraps the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== CredentialStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, username, passwordHash); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByUsername(ctx, username)
}

// GetUserByUsername retrieves a user by username, or nil if absent.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== ResultStore implementation ====

// SaveResult appends one game outcome for the user.
func (s *SQLiteStore) SaveResult(ctx context.Context, username string, won bool) error {
	query := `
		INSERT INTO results (username, won)
		VALUES (?, ?)
	`
	wonInt := 0
	if won {
		wonInt = 1
	}
	if _, err := s.db.ExecContext(ctx, query, username, wonInt); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetStats aggregates the user's result rows.
func (s *SQLiteStore) GetStats(ctx context.Context, username string) (store.Stats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(won), 0)
		FROM results
		WHERE username = ?
	`
	var stats store.Stats
	if err := s.db.QueryRowContext(ctx, query, username).Scan(&stats.GamesPlayed, &stats.Wins); err != nil {
		return store.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	stats.Losses = stats.GamesPlayed - stats.Wins
	return stats, nil
}
