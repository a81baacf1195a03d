package db

import (
	"strings"

	"github.com/teranos/pressline/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically occurs during daemon shutdown when the connection closes
// before a ticker or execution goroutine has finished.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The string fallback covers raw driver errors that never pass through this package.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "closed pool")
}
