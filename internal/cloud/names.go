package cloud

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxCollectionLength is the maximum length of a collection name.
	MaxCollectionLength = 64
	// MaxIDLength is the maximum length of a record id.
	MaxIDLength = 128
)

// collectionPattern matches lowercase snake_case names starting with a letter.
var collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateCollection validates a collection name against format rules.
func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalid)
	}
	if len(name) > MaxCollectionLength {
		return fmt.Errorf("%w: collection exceeds %d characters", ErrInvalid, MaxCollectionLength)
	}
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid collection %q (must be lowercase alphanumeric with underscores)",
			ErrInvalid, name)
	}
	return nil
}

// ValidateID validates a record id: non-empty UTF-8 without null bytes.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: id is required", ErrInvalid)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalid, MaxIDLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: id must be valid UTF-8", ErrInvalid)
	case strings.Contains(id, "\x00"):
		return fmt.Errorf("%w: id must not contain null bytes", ErrInvalid)
	}
	return nil
}
