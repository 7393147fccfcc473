package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/warp/delivery-tracker/tracker"
)

// Postgres SQLSTATE codes that mean "the schema is not there (yet)".
const (
	pqUndefinedTable  = "42P01"
	pqUndefinedColumn = "42703"
	pqDuplicateColumn = "42701"
	pqDuplicateTable  = "42P07"
	pqUniqueViolation = "23505"
)

// SQLite reports schema problems only through its message text.
var sqliteSchemaMessages = []string{
	"no such table",
	"no such column",
	"has no column named",
}

// classify maps a driver error into the tracker error taxonomy. A caller
// cancellation says nothing about the remote and stays unclassified.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	if isSchemaMissing(err) {
		return &tracker.SchemaError{Op: op, Err: err}
	}
	return &tracker.RemoteError{Op: op, Err: err}
}

func isSchemaMissing(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUndefinedTable || pqErr.Code == pqUndefinedColumn
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range sqliteSchemaMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// isAlreadyExists reports errors that a concurrent or repeated bootstrap
// may legitimately hit.
func isAlreadyExists(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqDuplicateColumn, pqDuplicateTable, pqUniqueViolation:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
