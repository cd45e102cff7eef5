package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redgreen/redgreen-server/internal/store"
)

var (
	// ErrUsernameTaken is returned when signing up with an existing username.
	ErrUsernameTaken = errors.New("username taken")
	// ErrUnknownUser is returned when logging in with a username that does not exist.
	ErrUnknownUser = errors.New("unknown user")
	// ErrBadCredential is returned when the password does not match.
	ErrBadCredential = errors.New("bad credential")
	// ErrInvalidUsername is returned when the username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
)

// Service provides signup and login against an opaque credential store.
// It is stateless per call; the connection owner enforces the attempt bound.
type Service struct {
	store store.CredentialStore
}

// NewService creates a new authentication service.
func NewService(credentials store.CredentialStore) *Service {
	return &Service{store: credentials}
}

// Signup creates a new user with a hashed password.
func (s *Service) Signup(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if len(username) < 1 || len(username) > 32 {
		return ErrInvalidUsername
	}
	if password == "" {
		return ErrBadCredential
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil && existing != nil {
		return ErrUsernameTaken
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if _, err := s.store.CreateUser(ctx, username, hashed); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Login validates credentials. Passwords are only ever compared through
// the bcrypt digest, never in the clear.
func (s *Service) Login(ctx context.Context, username, password string) error {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil || user == nil {
		return ErrUnknownUser
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return ErrBadCredential
	}
	return nil
}
