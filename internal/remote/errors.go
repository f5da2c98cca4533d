package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrDuplicate    = errors.New("duplicate record")
	ErrNotFound     = errors.New("record not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a non-2xx response decoded from an RFC 7807 problem body.
type Error struct {
	Status int
	Title  string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote %d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("remote %d %s", e.Status, e.Title)
}

// Unwrap maps the status to a sentinel so callers can use errors.Is.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusConflict:
		return ErrDuplicate
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

// IsTransient reports whether err is a network failure, a timeout or a
// server side error worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	var ne net.Error
	return errors.As(err, &ne)
}
