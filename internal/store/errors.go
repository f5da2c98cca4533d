package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperengineering/tally/internal/schema"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrConstraint    = errors.New("constraint violation")
	ErrUnknownTable  = schema.ErrUnknownTable
	ErrUnknownColumn = schema.ErrUnknownColumn
)

// Error is returned by every LocalStore operation that fails.
// Err classifies as one of the sentinel errors above or is the underlying
// database error.
type Error struct {
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapErr classifies err and wraps it in an *Error. Returns nil for nil.
func wrapErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Table: table, Err: classify(err)}
}

func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return err
}
