package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Storage persists the serialized chain document. Save must replace the
// previous document atomically: a failed Save leaves the old one intact.
type Storage interface {
	// Load returns the persisted document, or ErrNoState if none exists.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the persisted document with doc.
	Save(ctx context.Context, doc []byte) error
}

// Quarantiner is implemented by storages that can set aside an unreadable
// document before the ledger reinitializes over it.
type Quarantiner interface {
	// Quarantine moves the current document out of the way and returns a
	// description of where it went.
	Quarantine(ctx context.Context) (string, error)
}

// FileStorage keeps the chain in a single JSON file.
type FileStorage struct {
	path string
	now  func() time.Time
}

// NewFileStorage creates a FileStorage writing to path. The parent directory
// is created on first Save.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path, now: time.Now}
}

// Path returns the file the chain is written to.
func (s *FileStorage) Path() string { return s.path }

// Load implements Storage.
func (s *FileStorage) Load(_ context.Context) ([]byte, error) {
	doc, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return doc, nil
}

// Save implements Storage. The document is written to a temporary file in the
// same directory, synced, and renamed over the target.
func (s *FileStorage) Save(_ context.Context, doc []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Quarantine implements Quarantiner by renaming the file with a
// ".corrupt-<unix>" suffix.
func (s *FileStorage) Quarantine(_ context.Context) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", s.path, err)
	}
	return dst, nil
}
