// Package storage defines the interface for the image content store.
// Swap implementations by changing the concrete type injected at startup:
// the filesystem backend is the default, the MinIO backend works with any
// S3-compatible provider, and the memory backend exists for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

const maxKeyLength = 255

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that could address anything other
	// than a direct child of the storage root.
	ErrInvalidKey = errors.New("invalid object key")
)

// Storage is the interface for writing, reading, listing and removing objects.
// Keys are flat: a key is a single path segment directly under the root.
type Storage interface {
	// EnsureRoot creates the storage root if it does not exist yet. It is
	// idempotent and safe to call from concurrent requests.
	EnsureRoot(ctx context.Context) error
	// Write stores the content of r under key, replacing any existing object.
	// A failed write never leaves a partial object visible under key.
	// size is the exact byte count, or -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open returns a stream for the object at key. The caller must close it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the keys of all objects currently stored.
	List(ctx context.Context) ([]string, error)
	// Remove deletes the object at key.
	Remove(ctx context.Context, key string) error
}

// ValidateKey reports whether key is safe to use as a single path segment
// under the storage root.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: key longer than %d bytes", ErrInvalidKey, maxKeyLength)
	}
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidKey, key)
	}
	for _, r := range key {
		if r == '/' || r == '\\' || r == 0 || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, r)
		}
	}
	return nil
}

// NewContextReader returns a reader that stops with ctx.Err() once ctx is
// done, so long copies abort when the client goes away.
func NewContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
