// Package idgen generates record and request identifiers.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// Ordered returns a time-ordered (v7) UUID string, so IDs sort by creation.
// Falls back to a random UUID if the v7 generator fails.
func Ordered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// WithPrefix returns prefix followed by 32 hex characters, e.g. "an_3f2a...".
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Short returns 8 hex characters, for namespaces and log correlation.
func Short() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
