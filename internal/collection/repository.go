// Package collection groups stored images into named collections. Collections
// only reference image keys; the object store stays the source of truth.
package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Collection is a named group of image keys.
type Collection struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	CoverImageKey *string   `json:"coverImageKey,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	ImageKeys     []string  `json:"imageKeys,omitempty"`
}

// ErrNotFound is returned when a collection, or an image within it, does not exist.
var ErrNotFound = errors.New("collection not found")

// ErrAlreadyExists is returned when an image is already part of a collection.
var ErrAlreadyExists = errors.New("image already in collection")

// Store persists collections.
type Store interface {
	Create(ctx context.Context, title, description string) (*Collection, error)
	List(ctx context.Context) ([]Collection, error)
	GetByID(ctx context.Context, id string) (*Collection, error)
	Delete(ctx context.Context, id string) error
	AddImage(ctx context.Context, id, key string) error
	RemoveImage(ctx context.Context, id, key string) error
}

// Repository handles all collection database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new collection and returns the created record.
func (r *Repository) Create(ctx context.Context, title, description string) (*Collection, error) {
	c := &Collection{}
	err := r.db.QueryRow(ctx,
		`INSERT INTO collections (title, description)
		 VALUES ($1, $2)
		 RETURNING id, title, description, cover_image_key, created_at`,
		title, description,
	).Scan(&c.ID, &c.Title, &c.Description, &c.CoverImageKey, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return c, nil
}

// List returns every collection, newest first, without image keys.
func (r *Repository) List(ctx context.Context) ([]Collection, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, description, cover_image_key, created_at
		 FROM collections ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	out := make([]Collection, 0)
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.CoverImageKey, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return out, nil
}

// GetByID fetches a collection and the keys of its images in insertion order.
func (r *Repository) GetByID(ctx context.Context, id string) (*Collection, error) {
	c := &Collection{}
	err := r.db.QueryRow(ctx,
		`SELECT id, title, description, cover_image_key, created_at
		 FROM collections WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Title, &c.Description, &c.CoverImageKey, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection by id: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT image_key FROM collection_images
		 WHERE collection_id = $1 ORDER BY added_at, image_key`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get collection images: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan collection images: %w", err)
	}
	c.ImageKeys = keys
	return c, nil
}

// Delete removes a collection and its image references.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddImage appends key to the collection. The first image added becomes the
// cover when none is set.
func (r *Repository) AddImage(ctx context.Context, id, key string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT true FROM collections WHERE id = $1 FOR UPDATE`, id,
		).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock collection: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO collection_images (collection_id, image_key) VALUES ($1, $2)`,
			id, key,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("add collection image: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE collections SET cover_image_key = $2
			 WHERE id = $1 AND cover_image_key IS NULL`,
			id, key,
		); err != nil {
			return fmt.Errorf("set collection cover: %w", err)
		}
		return nil
	})
}

// RemoveImage drops key from the collection. When key was the cover, the
// oldest remaining image takes its place.
func (r *Repository) RemoveImage(ctx context.Context, id, key string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM collection_images WHERE collection_id = $1 AND image_key = $2`,
			id, key,
		)
		if err != nil {
			return fmt.Errorf("remove collection image: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx,
			`UPDATE collections SET cover_image_key = (
			     SELECT image_key FROM collection_images
			     WHERE collection_id = $1 ORDER BY added_at, image_key LIMIT 1)
			 WHERE id = $1 AND cover_image_key = $2`,
			id, key,
		); err != nil {
			return fmt.Errorf("reset collection cover: %w", err)
		}
		return nil
	})
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
