// Package credential keeps the CLI's API session in the system keyring.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"

	"gmptracker/internal/client"
)

const serviceName = "gmp-tracker"

type Store struct {
	ring keyring.Keyring
}

// Open returns a store backed by the platform keyring. fileDir holds the
// encrypted file backend used where no native keyring exists.
func Open(fileDir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(fileDir, "credentials"),
		FilePasswordFunc:         filePassword,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// filePassword reads GMP_KEYRING_PASSWORD before falling back to a prompt.
func filePassword(prompt string) (string, error) {
	if password := os.Getenv("GMP_KEYRING_PASSWORD"); password != "" {
		return password, nil
	}
	return keyring.TerminalPrompt(prompt)
}

func sessionKey(server, workspace string) string {
	return "session:" + server + "#" + workspace
}

// Load returns the stored session. ok is false when none is stored.
func (s *Store) Load(server, workspace string) (client.Session, bool, error) {
	item, err := s.ring.Get(sessionKey(server, workspace))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return client.Session{}, false, nil
	}
	if err != nil {
		return client.Session{}, false, fmt.Errorf("getting session for %s: %w", workspace, err)
	}
	var sess client.Session
	if err := json.Unmarshal(item.Data, &sess); err != nil {
		return client.Session{}, false, fmt.Errorf("decoding stored session: %w", err)
	}
	return sess, true, nil
}

func (s *Store) Save(server string, sess client.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:         sessionKey(server, sess.Workspace),
		Data:        data,
		Label:       "GMP tracker session (" + sess.Workspace + ")",
		Description: "access and refresh token",
	})
	if err != nil {
		return fmt.Errorf("setting session for %s: %w", sess.Workspace, err)
	}
	return nil
}

// Delete removes the stored session. Deleting a missing session is not an
// error.
func (s *Store) Delete(server, workspace string) error {
	err := s.ring.Remove(sessionKey(server, workspace))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting session for %s: %w", workspace, err)
	}
	return nil
}
