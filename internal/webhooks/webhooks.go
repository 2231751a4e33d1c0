// Package webhooks notifies external services about completed analyses.
//
// Subscriptions live in the key-value store under webhook:<id>. Every stored
// analysis that passes a subscription's filter is POSTed to its URL, signed
// with HMAC-SHA256 over the body using the subscription's secret.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mbd888/accountcheck/internal/analysis"
	"github.com/mbd888/accountcheck/internal/authenticity"
	"github.com/mbd888/accountcheck/internal/kv"
	"github.com/mbd888/accountcheck/internal/syncutil"
)

// EventAnalysisCompleted is the only event type delivered today.
const EventAnalysisCompleted = "analysis.completed"

// KeyPrefix is the key namespace subscriptions are stored under.
const KeyPrefix = "webhook:"

// MaxFailures disables a subscription after this many consecutive failed
// deliveries.
const MaxFailures = 10

var ErrNotFound = errors.New("webhook not found")

// Event is the JSON body POSTed to subscribers.
type Event struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      *analysis.Record `json:"data"`
}

// Filter narrows the analyses a subscription receives. The zero value
// matches everything.
type Filter struct {
	Statuses  []authenticity.Status `json:"statuses,omitempty"`
	Usernames []string              `json:"usernames,omitempty"`
	MaxScore  *int                  `json:"maxScore,omitempty"`
}

// Matches reports whether rec passes the filter.
func (f Filter) Matches(rec *analysis.Record) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, rec.Result.Status) {
		return false
	}
	if len(f.Usernames) > 0 && !slices.Contains(f.Usernames, rec.Username) {
		return false
	}
	if f.MaxScore != nil && rec.Result.Score > *f.MaxScore {
		return false
	}
	return true
}

// Subscription is a registered webhook endpoint.
type Subscription struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Secret      string     `json:"secret"`
	Filter      Filter     `json:"filter"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	Failures    int        `json:"failures"`
}

// Store persists subscriptions in a kv.Store.
type Store struct {
	kv    kv.Store
	locks syncutil.ShardedMutex
}

// NewStore wraps a key-value store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

func key(id string) string { return KeyPrefix + id }

// Create saves a new subscription.
func (s *Store) Create(ctx context.Context, sub *Subscription) error {
	return s.put(ctx, sub)
}

// Get returns the subscription with the given ID or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Subscription, error) {
	raw, err := s.kv.Get(ctx, key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decoding webhook %s: %w", id, err)
	}
	return &sub, nil
}

// List returns every subscription ordered by ID. Undecodable entries are
// skipped.
func (s *Store) List(ctx context.Context) ([]*Subscription, error) {
	entries, err := s.kv.GetByPrefix(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	subs := make([]*Subscription, 0, len(entries))
	for _, e := range entries {
		var sub Subscription
		if err := json.Unmarshal(e.Value, &sub); err != nil || sub.ID == "" {
			continue
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}

// Delete removes a subscription, returning ErrNotFound if it does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.kv.Get(ctx, key(id)); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.kv.Delete(ctx, key(id))
}

// recordDelivery updates the delivery bookkeeping of a subscription. A
// subscription deleted while a delivery was in flight is left deleted.
func (s *Store) recordDelivery(ctx context.Context, id string, deliveryErr error, at time.Time) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	sub, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if deliveryErr == nil {
		sub.LastSuccess = &at
		sub.LastError = ""
		sub.Failures = 0
	} else {
		sub.LastError = deliveryErr.Error()
		sub.Failures++
		if sub.Failures >= MaxFailures {
			sub.Active = false
		}
	}
	return s.put(ctx, sub)
}

func (s *Store) put(ctx context.Context, sub *Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key(sub.ID), raw)
}
