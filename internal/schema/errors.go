package schema

import "errors"

var (
	// ErrUnknownTable indicates a table that is not registered.
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownColumn indicates a column the table does not declare.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrInvalidValue indicates a value that cannot be encoded for its column.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidSchema indicates a malformed table declaration.
	ErrInvalidSchema = errors.New("invalid schema")
)
