// Package domain holds the Person Data Store's entity types, bounded-string
// wrappers and enums. Nothing here touches storage: repositories translate
// between these types and their SQL/cache representations.
package domain

import (
	"fmt"
	"unicode/utf8"

	"github.com/LerianStudio/person-data-store/internal/personerr"
)

// BoundedString is a string whose length was validated against a maximum
// at construction time. Once built it cannot grow past that maximum, so
// downstream inserts cannot fail on an overflow that construction already
// rejected (spec.md §9, "Bounded strings").
type BoundedString struct {
	value string
	max   int
}

// NewBoundedString validates s against max runes and field for error context.
func NewBoundedString(field, s string, max int) (BoundedString, error) {
	if utf8.RuneCountInString(s) > max {
		return BoundedString{}, personerr.InvalidInput{
			Field:  field,
			Reason: fmt.Sprintf("exceeds maximum length of %d", max),
		}
	}

	return BoundedString{value: s, max: max}, nil
}

// NewRequiredBoundedString validates s is non-empty and within max runes.
func NewRequiredBoundedString(field, s string, max int) (BoundedString, error) {
	if s == "" {
		return BoundedString{}, personerr.InvalidInput{Field: field, Reason: "required"}
	}

	return NewBoundedString(field, s, max)
}

// String returns the underlying value.
func (b BoundedString) String() string { return b.value }

// IsZero reports whether the bounded string was never constructed (the zero value).
func (b BoundedString) IsZero() bool { return b.value == "" && b.max == 0 }

// OptionalBoundedString validates s against max runes when non-nil.
func OptionalBoundedString(field string, s *string, max int) (*BoundedString, error) {
	if s == nil {
		return nil, nil
	}

	bs, err := NewBoundedString(field, *s, max)
	if err != nil {
		return nil, err
	}

	return &bs, nil
}
