package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// TokenFile holds the single persisted authentication token.
// No multi-account support: one file, one token.
type TokenFile struct {
	Token   string    `json:"token"`
	Server  string    `json:"server"`
	Email   string    `json:"email"`
	SavedAt time.Time `json:"saved_at"`
}

// TokenStore reads and writes the persisted token file.
type TokenStore struct {
	path string
}

// NewTokenStore creates a token store at path. An empty path uses the
// platform default location.
func NewTokenStore(path string) *TokenStore {
	if path == "" {
		path = DefaultTokenPath()
	}
	return &TokenStore{path: path}
}

// DefaultTokenPath returns the default path for the token file.
func DefaultTokenPath() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "CloudVault", "token.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cloudvault", "token.json")
}

// Save writes the token file with owner-only permissions.
func (s *TokenStore) Save(tf *TokenFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Load reads the token file. Returns nil with no error when the file
// does not exist.
func (s *TokenStore) Load() (*TokenFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// Delete removes the token file. Idempotent.
func (s *TokenStore) Delete() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
