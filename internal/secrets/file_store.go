package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"palisade/internal/models"
)

// FileStore persists key pairs as a JSON file with owner-only
// permissions. Backup copies the file aside before a rotation touches
// it; Restore moves the copy back.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) backupPath() string { return s.path + ".bak" }

// Load reads the persisted pair.
func (s *FileStore) Load(_ context.Context) (*KeyPair, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret store: %w", err)
	}

	var pair KeyPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("failed to decode secret store: %w", err)
	}
	return &pair, nil
}

// Save writes the pair atomically via a temp file rename.
func (s *FileStore) Save(_ context.Context, pair *KeyPair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode secret store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secret store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace secret store: %w", err)
	}
	return nil
}

// Backup copies the current file aside. A missing file is fine: there
// is nothing to protect yet.
func (s *FileStore) Backup(_ context.Context) error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read secret store for backup: %w", err)
	}

	if err := os.WriteFile(s.backupPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write secret backup: %w", err)
	}
	return nil
}

// Restore moves the backup back into place.
func (s *FileStore) Restore(_ context.Context) error {
	if _, err := os.Stat(s.backupPath()); os.IsNotExist(err) {
		return nil
	}
	if err := os.Rename(s.backupPath(), s.path); err != nil {
		return fmt.Errorf("failed to restore secret backup: %w", err)
	}
	return nil
}
