// Package analysis scores account statistics, persists every result in the
// key-value store, and serves the stored history.
//
// Flow:
//  1. Request is decoded leniently and validated (username required)
//  2. Stats are scored by authenticity.Scorer
//  3. The record is written under analysis:<username>:<timestamp>
//  4. Stored records are fanned out to publishers (WebSocket hub, Kafka)
//
// A storage failure never discards a computed score: the caller gets the
// result together with a StorageError.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/accountcheck/internal/authenticity"
	"github.com/mbd888/accountcheck/internal/validation"
)

var (
	ErrStorageUnavailable = errors.New("analysis storage unavailable")
	ErrEmptyBatch         = errors.New("batch must contain at least one account")
	ErrBatchTooLarge      = errors.New("batch exceeds maximum size")
)

// MaxBatchSize caps the number of accounts in one batch request.
const MaxBatchSize = 100

// KeyPrefix is the key namespace every analysis record lives under.
const KeyPrefix = "analysis:"

// keyTimeLayout is RFC 3339 with a fixed nine-digit fraction so keys for one
// username sort chronologically.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ValidationError reports a request that cannot be scored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// StorageError wraps a key-value store failure. Op is "set" or "scan".
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("analysis storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Number decodes any JSON value into a float: numbers as-is, numeric strings
// parsed, and everything else (null, booleans, junk strings, objects) as 0.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = 0
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = Number(f)
	return nil
}

// Text decodes a JSON string, or the literal text of a JSON number, into a
// string. Other values decode as "".
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = ""
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	switch s := v.(type) {
	case string:
		*t = Text(s)
	case float64:
		*t = Text(strings.TrimSpace(string(b)))
	}
	return nil
}

// Request is the body of an analyze call.
type Request struct {
	Username   Text   `json:"username"`
	Followers  Number `json:"followers"`
	Following  Number `json:"following"`
	Posts      Number `json:"posts"`
	AccountAge Number `json:"accountAge"`
}

// Stats validates r and converts it to scorer input. Negative numbers become
// 0 and fractional counts are truncated.
func (r Request) Stats() (authenticity.AccountStats, error) {
	username := validation.SanitizeString(string(r.Username), validation.MaxUsernameLength)
	if username == "" {
		return authenticity.AccountStats{}, &ValidationError{Field: "username", Message: "is required"}
	}
	if !validation.IsValidUsername(username) {
		return authenticity.AccountStats{}, &ValidationError{Field: "username", Message: "must be printable text"}
	}
	return authenticity.AccountStats{
		Username:         username,
		Followers:        toCount(float64(r.Followers)),
		Following:        toCount(float64(r.Following)),
		Posts:            toCount(float64(r.Posts)),
		AccountAgeMonths: math.Max(0, float64(r.AccountAge)),
	}, nil
}

func toCount(f float64) int64 {
	switch {
	case f <= 0:
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(f)
	}
}

// Record is one persisted analysis.
type Record struct {
	ID         string               `json:"id"`
	Username   string               `json:"username"`
	Followers  int64                `json:"followers"`
	Following  int64                `json:"following"`
	Posts      int64                `json:"posts"`
	AccountAge float64              `json:"accountAge"`
	Result     authenticity.Result  `json:"result"`
	Signals    authenticity.Signals `json:"signals"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Key returns the store key for r.
func (r *Record) Key() string {
	return UserPrefix(r.Username) + r.Timestamp.UTC().Format(keyTimeLayout)
}

// UserPrefix returns the key prefix shared by every record for username.
// The username is query-escaped so a ':' in it cannot collide with the
// separator.
func UserPrefix(username string) string {
	return KeyPrefix + url.QueryEscape(username) + ":"
}

// Outcome is what Analyze produced. Record is set even when Stored is false.
type Outcome struct {
	Result  authenticity.Result  `json:"result"`
	Signals authenticity.Signals `json:"signals"`
	Record  *Record              `json:"record"`
	Stored  bool                 `json:"stored"`
}

// BatchItem is the per-account result of AnalyzeBatch. Exactly one of
// Outcome and Err is set.
type BatchItem struct {
	Index   int
	Outcome *Outcome
	Err     error
}

// HistoryQuery selects a page of stored records.
type HistoryQuery struct {
	Username string // empty = all accounts
	Limit    int
	Cursor   string
}

// Page is one page of history, newest first.
type Page struct {
	Records    []*Record `json:"history"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

// DayStats counts the analyses made on one UTC day.
type DayStats struct {
	Date       string `json:"date"`
	Total      int    `json:"total"`
	Real       int    `json:"real"`
	Suspicious int    `json:"suspicious"`
	Fake       int    `json:"fake"`
}

// Stats aggregates the stored history.
type Stats struct {
	Total          int                         `json:"total"`
	UniqueAccounts int                         `json:"uniqueAccounts"`
	ByStatus       map[authenticity.Status]int `json:"byStatus"`
	AverageScore   float64                     `json:"averageScore"`
	Flags          map[authenticity.Flag]int   `json:"flags"`
	Daily          []DayStats                  `json:"daily"`
}

// Publisher receives every successfully stored record.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, rec *Record) error
}
