package db

import (
	"fmt"
	"time"
)

// storageLayout is RFC3339 in UTC with a fixed nine-digit fraction. The
// fixed width makes the strings sort lexically in chronological order, which
// the mail and event queries rely on for ORDER BY created_at and for
// created_at range comparisons.
const storageLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders a timestamp for storage in storageLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(storageLayout)
}

// ParseTime parses a stored timestamp. Falls back to the SQLite
// datetime('now') format for rows written by earlier schema versions.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}
