package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// credentials is the only local state the program persists: the identity
// provider's refresh token plus the profile fields shown on the profile view.
type credentials struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	RefreshToken string    `json:"refresh_token"`
}

type credentialStore struct {
	path string
}

func (s *credentialStore) load() (credentials, error) {
	var creds credentials
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return credentials{}, nil
		}
		return credentials{}, err
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return credentials{}, err
	}
	return creds, nil
}

func (s *credentialStore) save(creds credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *credentialStore) clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
