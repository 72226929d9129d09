package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrKeyMismatch = errors.New("workspace key mismatch")

// MinKeyLength is the shortest workspace key HashKey accepts.
const MinKeyLength = 8

// HashKey bcrypt-hashes a workspace key for storage.
func HashKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) < MinKeyLength {
		return "", fmt.Errorf("workspace key must be at least %d characters", MinKeyLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash workspace key: %w", err)
	}
	return string(hash), nil
}

// CompareKey returns ErrKeyMismatch when key does not match hash.
func CompareKey(hash, key string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(key)))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrKeyMismatch
	}
	if err != nil {
		return fmt.Errorf("compare workspace key: %w", err)
	}
	return nil
}
