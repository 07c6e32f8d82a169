package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryStorage implements Storage in process memory. It is used as a fake
// by tests of the layers above storage.
type MemoryStorage struct {
	mu      sync.RWMutex
	ready   bool
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// EnsureRoot marks the store as initialised.
func (s *MemoryStorage) EnsureRoot(ctx context.Context) error {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Write buffers r fully before publishing it under key.
func (s *MemoryStorage) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(NewContextReader(ctx, r))
	if err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("write %q: short write, got %d of %d bytes", key, len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return fmt.Errorf("write %q: storage root does not exist", key)
	}
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

// Open returns a reader over a copy of the object at key.
func (s *MemoryStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %q: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// List returns the stored keys, sorted.
func (s *MemoryStorage) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes the object at key.
func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("object %q: %w", key, ErrNotFound)
	}
	delete(s.objects, key)
	delete(s.types, key)
	return nil
}

// ContentType returns the content type recorded when key was written.
func (s *MemoryStorage) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[key]
}
