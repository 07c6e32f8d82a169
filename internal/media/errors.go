package media

import (
	"errors"
	"net/http"
)

// Kind classifies a failure for the HTTP boundary.
type Kind int

const (
	// InvalidInput is malformed or missing request data.
	InvalidInput Kind = iota + 1
	// UnsupportedMedia is a declared content type outside the allow-list.
	UnsupportedMedia
	// NotFound is a key with no stored object behind it.
	NotFound
	// StorageFailure is a directory or file I/O error.
	StorageFailure
	// CompressionFailure is a decode/encode error or a fault recovered
	// inside the compression boundary.
	CompressionFailure
	// PayloadTooLarge is a request body over the configured upload limit.
	PayloadTooLarge
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case UnsupportedMedia:
		return "unsupported_media"
	case NotFound:
		return "not_found"
	case StorageFailure:
		return "storage_failure"
	case CompressionFailure:
		return "compression_failure"
	case PayloadTooLarge:
		return "payload_too_large"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case UnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case NotFound:
		return http.StatusNotFound
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Service operation. Message is safe to show to
// clients; Err carries the internal cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err, treating unclassified errors as storage
// failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return StorageFailure
}

// IsNotFound returns true when err means the object does not exist.
func IsNotFound(err error) bool {
	return KindOf(err) == NotFound
}
