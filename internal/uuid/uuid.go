// Package uuid generates and validates the UUID v4 identifiers used across
// the engine. Operations, comments, and conflict records all carry
// client-generated v4 ids, so creating them offline never waits on the
// server to assign a key.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// v4Pattern matches the canonical textual form: version nibble 4, variant
// nibble in [89ab].
var v4Pattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New returns a fresh UUID v4 string.
func New() string {
	return uuid.New().String()
}

// Parse parses s into a UUID, rejecting anything that is not version 4.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	return id, nil
}

// IsValid reports whether s is a canonically formatted UUID v4. Stricter
// than Parse: the library accepts URN and braced forms, which have no
// business appearing in our ids.
func IsValid(s string) bool {
	return v4Pattern.MatchString(s)
}

// Validate returns an error when s is not a canonically formatted UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
