// Package kv provides the key-value store that analysis results are persisted in.
//
// Values are opaque JSON documents. Keys are plain strings and are listed in
// ascending byte order by GetByPrefix on every backend.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNotFound    = errors.New("key not found")
	ErrEmptyKey    = errors.New("key must not be empty")
	ErrNotJSON     = errors.New("value must be valid JSON")
	ErrUnknownKind = errors.New("unknown store backend")
)

// Entry is a stored key and its JSON value.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store persists JSON values by key.
type Store interface {
	// Set creates or replaces the value at key.
	Set(ctx context.Context, key string, value json.RawMessage) error
	// Get returns the value at key or ErrNotFound.
	Get(ctx context.Context, key string) (json.RawMessage, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// GetByPrefix returns every entry whose key starts with prefix, sorted by key.
	GetByPrefix(ctx context.Context, prefix string) ([]Entry, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend's resources.
	Close() error
	// Kind names the backend ("memory", "postgres", ...).
	Kind() string
}

// Backend kinds.
const (
	KindMemory   = "memory"
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
	KindRedis    = "redis"
)

func validate(key string, value json.RawMessage) error {
	if key == "" {
		return ErrEmptyKey
	}
	if !json.Valid(value) {
		return ErrNotJSON
	}
	return nil
}

// escapeLike escapes LIKE metacharacters so prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// escapeGlob escapes Redis glob metacharacters.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// prefixEnd returns the smallest string greater than every string with the
// given prefix, or "" if no such bound exists.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
