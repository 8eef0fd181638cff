package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// FileStore keeps one JSON file per key under a base directory:
//
//	<base>/plugins/<plugin>/<name>.json
//	<base>/conversations/<bot>/<conversation>/<plugin>/<name>.json
//
// Writes are atomic (temp file + rename).
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a file store rooted at baseDir
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = filepath.Join("data", "statebot")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(key Key) string {
	segs := key.Segments()
	parts := append([]string{s.baseDir}, segs[:len(segs)-1]...)
	parts = append(parts, segs[len(segs)-1]+".json")
	return filepath.Join(parts...)
}

// Get decodes the file stored for key
func (s *FileStore) Get(ctx context.Context, key Key, out any) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path(key))
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	return decode(key, data, out)
}

// Set writes value to the file for key
func (s *FileStore) Set(ctx context.Context, key Key, value any) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	path := s.path(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", key, err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes the file for key
func (s *FileStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op
func (s *FileStore) Close() error {
	return nil
}
