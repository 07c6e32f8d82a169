package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// tempPrefix marks in-flight writes. It starts with a dot, so List hides
// these files and ValidateKey never lets a client address them.
const tempPrefix = ".upload-"

// FilesystemStorage implements Storage as a flat directory on local disk.
type FilesystemStorage struct {
	root   string
	logger zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-backed store rooted at root.
// The directory itself is created lazily by EnsureRoot.
func NewFilesystemStorage(root string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Root returns the directory objects are stored in.
func (s *FilesystemStorage) Root() string {
	return s.root
}

// EnsureRoot creates the root directory if absent.
func (s *FilesystemStorage) EnsureRoot(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create storage root %q: %w", s.root, err)
	}
	return nil
}

// Write streams r into a temp file inside the root and renames it over key
// once the content is fully on disk.
func (s *FilesystemStorage) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, NewContextReader(ctx, r))
	if err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("write %q: short write, got %d of %d bytes", key, written, size)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", key, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %q: %w", key, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("commit %q: %w", key, err)
	}
	committed = true

	s.logger.Debug().
		Str("key", key).
		Int64("bytes", written).
		Str("content_type", contentType).
		Msg("filesystem storage: object written")
	return nil
}

// Open opens the object at key for reading.
func (s *FilesystemStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("open %q: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %q: %w", key, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("object %q: %w", key, ErrNotFound)
	}
	return f, nil
}

// List returns the names of the regular files in the root, sorted. A root
// that was never created lists as empty.
func (s *FilesystemStorage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes the object at key.
func (s *FilesystemStorage) Remove(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("object %q: %w", key, ErrNotFound)
		}
		return fmt.Errorf("stat %q: %w", key, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("object %q: %w", key, ErrNotFound)
	}

	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("object %q: %w", key, ErrNotFound)
		}
		return fmt.Errorf("remove %q: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Msg("filesystem storage: object removed")
	return nil
}

// path validates key and resolves it to a file directly inside the root.
func (s *FilesystemStorage) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, key)
	if filepath.Dir(p) != s.root {
		return "", fmt.Errorf("%w: %q resolves outside the storage root", ErrInvalidKey, key)
	}
	return p, nil
}
