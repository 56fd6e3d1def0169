package store

import "strings"

// isUniqueViolation checks whether the error is a SQLite primary-key or
// unique-constraint violation. Raced first-time inserts of the same phone
// surface this way and are treated as version conflicts.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: sessions.phone")
}

// isBusy checks if the error is a SQLITE_BUSY or "database is locked"
// error. These are concurrency errors that typically warrant retry logic.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked")
}
