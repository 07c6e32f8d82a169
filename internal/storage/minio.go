package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinioStorage implements Storage using a MinIO (or any S3-compatible) bucket.
// Objects are served through this service, so the bucket stays private.
type MinioStorage struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// NewMinioStorage creates a MinIO client for bucket. The bucket is created
// on the first EnsureRoot call.
func NewMinioStorage(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger zerolog.Logger) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStorage{
		client: client,
		bucket: bucket,
		logger: logger,
	}, nil
}

// EnsureRoot creates the bucket if it does not exist. A concurrent creator
// winning the race is not an error.
func (s *MinioStorage) EnsureRoot(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	s.logger.Info().Str("bucket", s.bucket).Msg("storage: created bucket")
	return nil
}

// Write uploads r under key. PutObject only makes the object visible once
// the upload completes, so a failed upload leaves nothing behind.
// size must be the exact byte count (pass -1 only if the size is genuinely
// unknown; MinIO will buffer it).
func (s *MinioStorage) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int64("bytes", info.Size).Msg("minio storage: object written")
	return nil
}

// Open returns the object at key. The object is stat'ed first so a missing
// key surfaces here rather than on the first Read.
func (s *MinioStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(key, "get object", err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.mapError(key, "stat object", err)
	}
	return obj, nil
}

// List returns the keys of all objects in the bucket.
func (s *MinioStorage) List(ctx context.Context) ([]string, error) {
	keys := []string{}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if obj.Err != nil {
			if isNoSuchBucket(obj.Err) {
				return []string{}, nil
			}
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes the object at key. S3 deletes are idempotent, so the object
// is stat'ed first to report a missing key.
func (s *MinioStorage) Remove(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return s.mapError(key, "stat object", err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("minio storage: object removed")
	return nil
}

func (s *MinioStorage) mapError(key, op string, err error) error {
	if isNoSuchKey(err) || isNoSuchBucket(err) {
		return fmt.Errorf("object %q: %w", key, ErrNotFound)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func isNoSuchBucket(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchBucket"
}
