package store

import (
	"context"
	"time"
)

// User represents a registered player.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// GameResult is one append-only row per player per finished room.
type GameResult struct {
	ID        int64
	Username  string
	Won       bool
	Timestamp time.Time
}

// Stats aggregates a player's result rows.
type Stats struct {
	GamesPlayed int
	Wins        int
	Losses      int
}

// CredentialStore handles user credential persistence. Password digests are
// opaque to the core; hashing and verification live in the auth package.
type CredentialStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByUsername retrieves a user by username, or nil if absent.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ResultStore persists per-user win/loss records.
type ResultStore interface {
	// SaveResult appends one game outcome for the user.
	SaveResult(ctx context.Context, username string, won bool) error

	// GetStats aggregates the user's result rows.
	GetStats(ctx context.Context, username string) (Stats, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	CredentialStore
	ResultStore

	// Close closes the underlying database connection.
	Close() error
}
