package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Preferences is the CLI's preferences.toml.
type Preferences struct {
	// Server is the API base URL.
	Server    string `toml:"server"`
	Workspace string `toml:"workspace"`
	// DisplayName is the name messages are posted under. It is chosen by
	// the user and never verified.
	DisplayName string `toml:"display_name"`
}

const (
	PreferencesFile = "preferences.toml"
	DefaultServer   = "http://localhost:8787"
)

// ClientDir is the per-user directory holding preferences and the local
// progress snapshot.
func ClientDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("GMP_CLIENT_DIR")); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, "gmp-tracker"), nil
}

// LoadPreferences reads path. A missing file yields defaults.
func LoadPreferences(path string) (*Preferences, error) {
	prefs := Preferences{Server: DefaultServer}
	if _, err := toml.DecodeFile(path, &prefs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &prefs, nil
		}
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if strings.TrimSpace(prefs.Server) == "" {
		prefs.Server = DefaultServer
	}
	return &prefs, nil
}

// Save writes the preferences to path, creating its directory.
func (p *Preferences) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create preferences dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create preferences file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	return nil
}
