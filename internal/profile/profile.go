// Package profile defines the canonical profile record shared by the
// ingestion and matching paths.
package profile

import (
	"errors"
	"fmt"
)

// AgeUnknown marks a profile whose birth date was missing from the source.
const AgeUnknown = -1

// Category is the binary categorical attribute used for opposite-category
// matching. Codes match the legacy export's sex field.
type Category string

const (
	CategoryA       Category = "M"
	CategoryB       Category = "F"
	CategoryUnknown Category = "U"
)

// Valid reports whether c is one of the known codes.
func (c Category) Valid() bool {
	switch c {
	case CategoryA, CategoryB, CategoryUnknown:
		return true
	}
	return false
}

// Opposite returns the category a profile of category c is matched against.
// Unknown has no opposite.
func (c Category) Opposite() (Category, bool) {
	switch c {
	case CategoryA:
		return CategoryB, true
	case CategoryB:
		return CategoryA, true
	}
	return CategoryUnknown, false
}

// Record is a single user profile.
type Record struct {
	UserID    int64     `json:"user_id"`
	Age       int       `json:"age"`
	Biography string    `json:"bio,omitempty"`
	Category  Category  `json:"category"`
	City      string    `json:"city"`
	Region    string    `json:"region"`
	Country   *string   `json:"country,omitempty"`
	Embedding []float32 `json:"-"`
}

// HasBiography reports whether an embedding should be computed for r.
func (r Record) HasBiography() bool {
	return r.Biography != ""
}

// HasEmbedding reports whether r carries a biography vector.
func (r Record) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// ErrInvalidRecord is wrapped by every ValidationError.
var ErrInvalidRecord = errors.New("invalid profile record")

// ValidationError names the field that made a record unusable.
type ValidationError struct {
	UserID int64
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("profile %d: %s: %s", e.UserID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// Validate checks the fields the store and the matcher rely on.
func (r Record) Validate() error {
	if r.UserID <= 0 {
		return &ValidationError{UserID: r.UserID, Field: "user_id", Reason: "must be a positive integer"}
	}
	if r.Age < AgeUnknown {
		return &ValidationError{UserID: r.UserID, Field: "age", Reason: fmt.Sprintf("%d is below the unknown sentinel", r.Age)}
	}
	if !r.Category.Valid() {
		return &ValidationError{UserID: r.UserID, Field: "category", Reason: fmt.Sprintf("unknown code %q", r.Category)}
	}
	if r.HasEmbedding() && !r.HasBiography() {
		return &ValidationError{UserID: r.UserID, Field: "embedding", Reason: "present without a biography"}
	}
	return nil
}

// SameCountry compares two optional countries. Two absent countries are equal;
// an absent country never equals a present one.
func SameCountry(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
