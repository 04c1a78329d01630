package utils

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns an opaque 32-hex-char identifier.
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ShortID returns the first 8 characters of an id, for display and
// title templates.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Truncate caps s at max characters.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// FormatTime renders timestamps for logs and CLI output.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
