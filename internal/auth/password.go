package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost keeps hashing fast enough for the auth dialog's per-attempt
// latency while staying above bcrypt's minimum.
const bcryptCost = 10

// HashPassword derives the bcrypt hash stored for a player's credential.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword checks a plaintext password against its stored hash.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
