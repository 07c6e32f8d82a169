// Package media stores uploaded images and serves them back by key.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/radif/gallery/internal/metrics"
	"github.com/radif/gallery/internal/storage"
)

// AcceptedContentType is the only media type accepted for upload.
const AcceptedContentType = "image/jpeg"

// Upload is a single file field taken from a request.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
	// Size is the exact byte count, or -1 when unknown.
	Size int64
}

// Object is an open stored object. The caller must close Body.
type Object struct {
	Key         string
	ContentType string
	Body        io.ReadCloser
}

// Service contains the ingest, retrieval, listing and delete logic.
type Service struct {
	store      storage.Storage
	compressor Compressor
	logger     zerolog.Logger
}

// NewService creates a media Service. compressor may be nil, in which case
// uploads are stored byte for byte.
func NewService(store storage.Storage, compressor Compressor, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		compressor: compressor,
		logger:     logger,
	}
}

// Ingest validates an upload, allocates its key and persists it. It returns
// the new key.
func (s *Service) Ingest(ctx context.Context, up Upload) (string, error) {
	key, err := s.ingest(ctx, up)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(KindOf(err).String()).Inc()
		return "", err
	}
	metrics.UploadsTotal.WithLabelValues("stored").Inc()
	return key, nil
}

func (s *Service) ingest(ctx context.Context, up Upload) (string, error) {
	if strings.TrimSpace(up.ContentType) == "" {
		return "", newError(InvalidInput, "missing content type", nil)
	}
	if !isAccepted(up.ContentType) {
		return "", newError(UnsupportedMedia,
			fmt.Sprintf("only JPEG images are supported, you sent me: %s", up.ContentType), nil)
	}
	if up.Body == nil {
		return "", newError(InvalidInput, "no file field", nil)
	}

	key := AllocateKey(up.Filename)
	body, size := up.Body, up.Size

	if s.compressor != nil {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", readError(err)
		}
		out, err := isolate(func() ([]byte, error) {
			return s.compressor.Compress(ctx, data)
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Int("bytes", len(data)).Msg("image compression failed")
			return "", newError(CompressionFailure, "failed to compress image", err)
		}
		body, size = bytes.NewReader(out), int64(len(out))
	}

	if err := s.store.EnsureRoot(ctx); err != nil {
		return "", newError(StorageFailure, "failed to create images directory", err)
	}

	counter := &countingReader{r: body}
	if err := s.store.Write(ctx, key, counter, size, AcceptedContentType); err != nil {
		// Failures reading the client body are not storage faults.
		if counter.err != nil {
			return "", readError(counter.err)
		}
		if ctx.Err() != nil {
			return "", readError(err)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", newError(PayloadTooLarge, "request body too large", err)
		}
		return "", newError(StorageFailure, "failed to write file", err)
	}

	metrics.StoredBytesTotal.Add(float64(counter.n))
	s.logger.Info().
		Str("key", key).
		Str("filename", up.Filename).
		Int64("bytes", counter.n).
		Bool("compressed", s.compressor != nil).
		Msg("image stored")
	return key, nil
}

// Open resolves key to a readable object and its content type.
func (s *Service) Open(ctx context.Context, key string) (*Object, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, newError(NotFound, "image not found", err)
	}
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(NotFound, "image not found", err)
		}
		return nil, newError(StorageFailure, "failed to open image", err)
	}
	return &Object{
		Key:         key,
		ContentType: ContentTypeFor(key),
		Body:        rc,
	}, nil
}

// Exists reports whether an object is stored under key.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	obj, err := s.Open(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	_ = obj.Body.Close()
	return true, nil
}

// List returns the keys currently stored. The store is re-scanned on every
// call; callers must not rely on the order.
func (s *Service) List(ctx context.Context) ([]string, error) {
	keys, err := s.store.List(ctx)
	if err != nil {
		return nil, newError(StorageFailure, "failed to list images", err)
	}
	return keys, nil
}

// Delete removes the object stored under key. Deleting a missing key
// returns a NotFound error.
func (s *Service) Delete(ctx context.Context, key string) error {
	err := s.delete(ctx, key)
	switch {
	case err == nil:
		metrics.DeletesTotal.WithLabelValues("deleted").Inc()
		s.logger.Info().Str("key", key).Msg("image deleted")
	case IsNotFound(err):
		metrics.DeletesTotal.WithLabelValues(NotFound.String()).Inc()
		s.logger.Info().Str("key", key).Msg("image already gone")
	default:
		metrics.DeletesTotal.WithLabelValues(KindOf(err).String()).Inc()
	}
	return err
}

func (s *Service) delete(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return newError(NotFound, "image not found", err)
	}
	if err := s.store.Remove(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return newError(NotFound, "image not found", err)
		}
		return newError(StorageFailure, "failed to delete image", err)
	}
	return nil
}

// ContentTypeFor derives a content type from the extension of key.
func ContentTypeFor(key string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(key), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// isAccepted compares the media type of a declared content type, ignoring
// case and parameters.
func isAccepted(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == AcceptedContentType
}

func readError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return newError(PayloadTooLarge, "request body too large", err)
	}
	return newError(InvalidInput, "failed to read upload", err)
}

// countingReader counts bytes read and records the first read error other
// than io.EOF.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF && c.err == nil {
		c.err = err
	}
	return n, err
}
