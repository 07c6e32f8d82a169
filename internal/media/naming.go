package media

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// maxNameLength bounds the sanitized part of a key; together with the
	// 37-byte uuid prefix it stays under the storage key limit.
	maxNameLength   = 200
	maxExtLength    = 16
	defaultFilename = "upload.jpg"
)

// AllocateKey returns a new storage key "<uuid-v4>_<sanitized filename>".
// It does no I/O; uniqueness comes from the random uuid.
func AllocateKey(filename string) string {
	return uuid.NewString() + "_" + SanitizeFilename(filename)
}

// SanitizeFilename reduces a client-supplied filename to a single safe path
// segment. Directory components are dropped, reserved and control characters
// become '_', leading dots are stripped and the result is truncated. An empty
// result falls back to "upload.jpg".
func SanitizeFilename(name string) string {
	name = strings.ToValidUTF8(name, "_")
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		switch {
		case r == 0, unicode.IsControl(r), r == utf8.RuneError:
			return '_'
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		}
		return r
	}, name)

	name = strings.TrimLeft(name, ". ")
	name = strings.TrimRight(name, " ")
	name = truncateName(name, maxNameLength)
	if name == "" {
		return defaultFilename
	}
	return name
}

// truncateName cuts name to at most limit bytes on a rune boundary, keeping a
// short extension intact.
func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > maxExtLength {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	budget := limit - len(ext)
	for budget > 0 && !utf8.RuneStart(stem[budget]) {
		budget--
	}
	return strings.TrimRight(stem[:budget], " ") + ext
}
