package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

const fileVersion = 1

type fileSnapshot struct {
	Version int                   `yaml:"version"`
	SavedAt time.Time             `yaml:"saved_at"`
	Members []models.MemberRecord `yaml:"members"`
}

// FileStore keeps the snapshot in a YAML file, replaced atomically on save.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Name() string { return TypeFile }

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(_ context.Context, records []models.MemberRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(fileSnapshot{
		Version: fileVersion,
		SavedAt: time.Now().UTC(),
		Members: records,
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".members-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	// Configs hold private keys.
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Load(_ context.Context) ([]models.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap fileSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", s.path, err)
	}
	if snap.Version > fileVersion {
		return nil, fmt.Errorf("snapshot %s has unsupported version %d", s.path, snap.Version)
	}
	return snap.Members, nil
}
