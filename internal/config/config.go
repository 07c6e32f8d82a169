// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Storage drivers.
const (
	DriverFilesystem = "fs"
	DriverMinio      = "minio"
)

// DefaultMaxUploadBytes caps request bodies at 20 MiB.
const DefaultMaxUploadBytes int64 = 20 << 20

// Config holds all runtime configuration for the service.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	// MaxUploadBytes bounds every request body.
	MaxUploadBytes int64
	CORSOrigins    []string

	// Content store. "fs" keeps objects in StorageRoot; "minio" uses any
	// S3-compatible endpoint (MinIO locally, ArvanCloud or AWS in production).
	StorageDriver    string
	StorageRoot      string
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool

	// Optional fixed-size re-encoding of uploads.
	CompressUploads bool
	CompressSize    int
	CompressQuality int

	// DatabaseURL enables the collections API when set.
	DatabaseURL string
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, reading from environment")
	}

	return &Config{
		Port:     getEnv("PORT", "3001"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "*")),

		StorageDriver:    strings.ToLower(getEnv("STORAGE_DRIVER", DriverFilesystem)),
		StorageRoot:      getEnv("STORAGE_ROOT", "images"),
		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:    getEnv("STORAGE_BUCKET", "images"),
		StorageUseSSL:    getEnvBool("STORAGE_USE_SSL", false),

		CompressUploads: getEnvBool("COMPRESS_UPLOADS", false),
		CompressSize:    getEnvInt("COMPRESS_SIZE", 40),
		CompressQuality: getEnvInt("COMPRESS_QUALITY", 80),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverFilesystem:
		if c.StorageRoot == "" {
			return fmt.Errorf("STORAGE_ROOT must not be empty")
		}
	case DriverMinio:
		if c.StorageBucket == "" {
			return fmt.Errorf("STORAGE_BUCKET must not be empty")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (want %q or %q)", c.StorageDriver, DriverFilesystem, DriverMinio)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.CompressUploads {
		if c.CompressSize <= 0 {
			return fmt.Errorf("COMPRESS_SIZE must be positive")
		}
		if c.CompressQuality < 1 || c.CompressQuality > 100 {
			return fmt.Errorf("COMPRESS_QUALITY must be between 1 and 100")
		}
	}
	return nil
}

// CollectionsEnabled returns true when a database is configured.
func (c *Config) CollectionsEnabled() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", fallback).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int64("default", fallback).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", fallback).Msg("invalid boolean, using default")
		return fallback
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
