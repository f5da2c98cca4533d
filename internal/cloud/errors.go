package cloud

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record already exists")
	ErrForbidden = errors.New("record belongs to another tenant")
	ErrInvalid   = errors.New("invalid request")

	// ErrImmutable rejects rewriting a row of an append-only collection.
	// It matches ErrConflict.
	ErrImmutable = fmt.Errorf("%w in append-only collection", ErrConflict)
)
