package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxTitleLength = 200

// ErrInvalidInput is returned when a request fails validation.
var ErrInvalidInput = errors.New("invalid input")

// ErrImageNotFound is returned when a key does not name a stored image.
var ErrImageNotFound = errors.New("image not found")

// ImageChecker reports whether an image is present in the object store.
type ImageChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Service contains business logic for collections.
type Service struct {
	store  Store
	images ImageChecker
	logger zerolog.Logger
}

// NewService creates a new collection Service.
func NewService(store Store, images ImageChecker, logger zerolog.Logger) *Service {
	return &Service{store: store, images: images, logger: logger}
}

// Create validates and stores a new collection.
func (s *Service) Create(ctx context.Context, title, description string) (*Collection, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title is too long", ErrInvalidInput)
	}

	c, err := s.store.Create(ctx, title, strings.TrimSpace(description))
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.logger.Info().Str("collection_id", c.ID).Msg("collection created")
	return c, nil
}

// List returns every collection.
func (s *Service) List(ctx context.Context) ([]Collection, error) {
	return s.store.List(ctx)
}

// Get returns a collection with its image keys.
func (s *Service) Get(ctx context.Context, id string) (*Collection, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return s.store.GetByID(ctx, id)
}

// Delete removes a collection. The images it references are left in place.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("collection_id", id).Msg("collection deleted")
	return nil
}

// AddImage adds a stored image to a collection.
func (s *Service) AddImage(ctx context.Context, id, key string) error {
	if !validID(id) {
		return ErrNotFound
	}
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidInput)
	}

	ok, err := s.images.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check image: %w", err)
	}
	if !ok {
		return ErrImageNotFound
	}

	if err := s.store.AddImage(ctx, id, key); err != nil {
		return err
	}
	s.logger.Info().Str("collection_id", id).Str("key", key).Msg("image added to collection")
	return nil
}

// RemoveImage removes an image reference from a collection.
func (s *Service) RemoveImage(ctx context.Context, id, key string) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.store.RemoveImage(ctx, id, key)
}

// IsNotFound returns true when the error indicates a collection or image was not found.
func (s *Service) IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrImageNotFound)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
