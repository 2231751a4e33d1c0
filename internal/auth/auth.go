// Package auth guards the API with static API keys.
//
// Keys come from configuration (API_KEYS). Only their SHA-256 hashes are
// kept in memory. With no keys configured every request is allowed, which
// is the local development default.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// APIKey identifies an accepted key without exposing it.
type APIKey struct {
	// ID is a short prefix of the key hash, safe for logs.
	ID   string `json:"id"`
	hash [sha256.Size]byte
}

// Manager validates presented keys.
type Manager struct {
	keys []APIKey
}

// NewManager accepts the given raw keys. Blank entries are ignored.
func NewManager(rawKeys []string) *Manager {
	m := &Manager{}
	for _, raw := range rawKeys {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		sum := sha256.Sum256([]byte(raw))
		m.keys = append(m.keys, APIKey{
			ID:   "key_" + hex.EncodeToString(sum[:4]),
			hash: sum,
		})
	}
	return m
}

// Enabled reports whether any key is configured.
func (m *Manager) Enabled() bool {
	return len(m.keys) > 0
}

// ValidateKey checks a raw key, with or without a "Bearer " prefix.
func (m *Manager) ValidateKey(raw string) (*APIKey, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, ErrNoAPIKey
	}
	sum := sha256.Sum256([]byte(raw))

	// Compare against every key so timing does not reveal which one matched.
	var found *APIKey
	for i := range m.keys {
		if subtle.ConstantTimeCompare(sum[:], m.keys[i].hash[:]) == 1 {
			found = &m.keys[i]
		}
	}
	if found == nil {
		return nil, ErrInvalidAPIKey
	}
	return found, nil
}
