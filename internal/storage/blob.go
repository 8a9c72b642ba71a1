// Package storage persists session artifacts (serialized indices and
// chunk tables) under hierarchical keys.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

// BlobStore stores opaque blobs under slash-separated keys.
type BlobStore interface {
	// Put writes the blob under key, replacing any existing blob.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens the blob stored under key. Returns rag.ErrNotFound when
	// no such blob exists. The caller closes the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the blob under key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// IndexKey returns the storage key for a session's serialized index.
func IndexKey(sessionID string) string {
	return "indices/" + sessionID + "/index.bin"
}

// ChunksKey returns the storage key for a session's chunk table.
func ChunksKey(sessionID string) string {
	return "indices/" + sessionID + "/chunks.json"
}

// FS is a BlobStore backed by a directory tree. Writes go through a
// temporary file and a rename so readers never observe partial blobs.
type FS struct {
	root string
}

// NewFS constructs an FS store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %s: %w", dir, err)
	}
	return &FS{root: dir}, nil
}

// path maps a key to a filesystem path, rejecting traversal attempts.
func (s *FS) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: invalid storage key %q", rag.ErrInvalidInput, key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FS) Put(_ context.Context, key string, r io.Reader) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file for %s: %w", key, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: commit %s: %w", key, err)
	}
	return nil
}

func (s *FS) Get(_ context.Context, key string) (io.ReadCloser, error) {
	src, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no blob stored under %q", rag.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", key, err)
	}
	return f, nil
}

func (s *FS) Exists(_ context.Context, key string) (bool, error) {
	src, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(src)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return true, nil
}

func (s *FS) Delete(_ context.Context, key string) error {
	src, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// Ping verifies the storage root is still a usable directory, for
// readiness probes.
func (s *FS) Ping(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("storage: stat root %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: root %s is not a directory", s.root)
	}
	return nil
}
