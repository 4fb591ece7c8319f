package store

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// isConflict reports whether err is a transient SQLite concurrency failure
// (SQLITE_BUSY or SQLITE_LOCKED) worth retrying. Wrapped driver errors are
// classified by result code; errors that lost their type fall back to the
// driver's message text.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var driverErr *sqlite.Error
	if errors.As(err, &driverErr) {
		switch driverErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
