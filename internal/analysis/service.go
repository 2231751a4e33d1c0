package analysis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/accountcheck/internal/authenticity"
	"github.com/mbd888/accountcheck/internal/circuitbreaker"
	"github.com/mbd888/accountcheck/internal/idgen"
	"github.com/mbd888/accountcheck/internal/kv"
	"github.com/mbd888/accountcheck/internal/logging"
	"github.com/mbd888/accountcheck/internal/metrics"
	"github.com/mbd888/accountcheck/internal/pagination"
	"github.com/mbd888/accountcheck/internal/traces"
)

// Breaker keys, one per store operation.
const (
	opSet  = "set"
	opScan = "scan"
)

// statsWindowDays is how many trailing days Stats breaks down.
const statsWindowDays = 7

// Config tunes the service.
type Config struct {
	BatchConcurrency int
	StoreTimeout     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchConcurrency: 8,
		StoreTimeout:     5 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Service implements analysis business logic.
type Service struct {
	scorer     *authenticity.Scorer
	store      kv.Store
	breaker    *circuitbreaker.Breaker
	publishers []Publisher
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a service persisting to store.
func NewService(store kv.Store, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		scorer:  authenticity.NewScorer(),
		store:   store,
		breaker: circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		logger.Warn("storage circuit changed state", "op", key, "from", from.String(), "to", to.String())
	})
	return s
}

// WithPublisher adds a destination for stored records.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publishers = append(s.publishers, p)
	return s
}

// StoreKind names the backing store.
func (s *Service) StoreKind() string {
	return s.store.Kind()
}

// Analyze scores req and persists the record. On a storage failure the
// outcome is still returned, alongside a *StorageError.
func (s *Service) Analyze(ctx context.Context, req Request) (*Outcome, error) {
	stats, err := req.Stats()
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "analysis.Analyze", traces.Username(stats.Username))
	defer span.End()

	result := s.scorer.Score(stats)
	signals := s.scorer.Signals(stats)
	observe(result)
	span.SetAttributes(traces.Status(string(result.Status)), traces.Score(result.Score))

	rec := &Record{
		ID:         idgen.Ordered(),
		Username:   stats.Username,
		Followers:  stats.Followers,
		Following:  stats.Following,
		Posts:      stats.Posts,
		AccountAge: stats.AccountAgeMonths,
		Result:     result,
		Signals:    signals,
		Timestamp:  s.now().UTC(),
	}
	out := &Outcome{Result: result, Signals: signals, Record: rec}

	if err := s.save(ctx, rec); err != nil {
		traces.RecordError(span, err)
		s.log(ctx).Warn("analysis computed but not stored",
			"username", rec.Username,
			"status", result.Status,
			"error", err,
		)
		return out, err
	}
	out.Stored = true

	s.publish(ctx, rec)

	s.log(ctx).Info("account analyzed",
		"username", rec.Username,
		"status", result.Status,
		"score", result.Score,
		"flags", len(result.Flags),
	)
	return out, nil
}

// AnalyzeBatch analyzes up to MaxBatchSize requests concurrently. Items fail
// independently; the returned slice is in request order.
func (s *Service) AnalyzeBatch(ctx context.Context, reqs []Request) ([]BatchItem, error) {
	switch {
	case len(reqs) == 0:
		return nil, ErrEmptyBatch
	case len(reqs) > MaxBatchSize:
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), MaxBatchSize)
	}

	ctx, span := traces.StartSpan(ctx, "analysis.AnalyzeBatch", traces.BatchSize(len(reqs)))
	defer span.End()
	metrics.BatchSize.Observe(float64(len(reqs)))

	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			out, err := s.Analyze(ctx, req)
			items[i] = BatchItem{Index: i, Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return items, nil
}

// History returns a newest-first page of records, optionally for one username.
func (s *Service) History(ctx context.Context, q HistoryQuery) (*Page, error) {
	cursor, err := pagination.Decode(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := pagination.ClampLimit(q.Limit)

	prefix := KeyPrefix
	if q.Username != "" {
		prefix = UserPrefix(q.Username)
	}

	ctx, span := traces.StartSpan(ctx, "analysis.History", traces.Username(q.Username))
	defer span.End()

	records, err := s.load(ctx, prefix)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	// Collect limit+1 so ComputePage can tell whether another page exists.
	selected := make([]*Record, 0, limit+1)
	for _, rec := range records {
		if !cursor.Before(rec.Timestamp, rec.ID) {
			continue
		}
		selected = append(selected, rec)
		if len(selected) > limit {
			break
		}
	}

	page, next, more := pagination.ComputePage(selected, limit, func(r *Record) (time.Time, string) {
		return r.Timestamp, r.ID
	})
	return &Page{Records: page, NextCursor: next, HasMore: more}, nil
}

// Stats aggregates every stored record.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := traces.StartSpan(ctx, "analysis.Stats")
	defer span.End()

	records, err := s.load(ctx, KeyPrefix)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	return aggregate(records, s.now().UTC()), nil
}

func aggregate(records []*Record, now time.Time) *Stats {
	st := &Stats{
		ByStatus: map[authenticity.Status]int{
			authenticity.StatusReal:       0,
			authenticity.StatusSuspicious: 0,
			authenticity.StatusFake:       0,
		},
		Flags: make(map[authenticity.Flag]int, len(authenticity.Flags)),
		Daily: make([]DayStats, statsWindowDays),
	}
	for _, f := range authenticity.Flags {
		st.Flags[f] = 0
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayIndex := make(map[string]int, statsWindowDays)
	for i := range statsWindowDays {
		date := today.AddDate(0, 0, i-(statsWindowDays-1)).Format(time.DateOnly)
		st.Daily[i].Date = date
		dayIndex[date] = i
	}

	users := make(map[string]struct{})
	var scoreSum int
	for _, rec := range records {
		st.Total++
		scoreSum += rec.Result.Score
		users[rec.Username] = struct{}{}
		st.ByStatus[rec.Result.Status]++
		for _, f := range rec.Result.Flags {
			st.Flags[f]++
		}

		i, ok := dayIndex[rec.Timestamp.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		day := &st.Daily[i]
		day.Total++
		switch rec.Result.Status {
		case authenticity.StatusReal:
			day.Real++
		case authenticity.StatusSuspicious:
			day.Suspicious++
		case authenticity.StatusFake:
			day.Fake++
		}
	}

	st.UniqueAccounts = len(users)
	if st.Total > 0 {
		st.AverageScore = float64(scoreSum) / float64(st.Total)
	}
	return st
}

// save writes rec through the storage breaker.
func (s *Service) save(ctx context.Context, rec *Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return &StorageError{Op: opSet, Err: err}
	}

	ctx, span := traces.StartSpan(ctx, "kv.Set", traces.StoreKind(s.store.Kind()))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err = s.breaker.Do(opSet, func() error {
		return s.store.Set(ctx, rec.Key(), value)
	})
	metrics.ObserveStorage(opSet, start, err)
	if err != nil {
		traces.RecordError(span, err)
		return storageError(opSet, err)
	}
	return nil
}

// load reads every record under prefix, newest first. Entries that don't
// decode as records are skipped.
func (s *Service) load(ctx context.Context, prefix string) ([]*Record, error) {
	ctx, span := traces.StartSpan(ctx, "kv.GetByPrefix", traces.StoreKind(s.store.Kind()))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var entries []kv.Entry
	start := time.Now()
	err := s.breaker.Do(opScan, func() error {
		var err error
		entries, err = s.store.GetByPrefix(ctx, prefix)
		return err
	})
	metrics.ObserveStorage(opScan, start, err)
	if err != nil {
		traces.RecordError(span, err)
		return nil, storageError(opScan, err)
	}

	records := make([]*Record, 0, len(entries))
	for _, e := range entries {
		var rec Record
		if err := json.Unmarshal(e.Value, &rec); err != nil || rec.Username == "" {
			s.log(ctx).Warn("skipping malformed history entry", "key", e.Key, "error", err)
			continue
		}
		if rec.Result.Flags == nil {
			rec.Result.Flags = []authenticity.Flag{}
		}
		records = append(records, &rec)
	}

	slices.SortStableFunc(records, func(a, b *Record) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return records, nil
}

func storageError(op string, err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return &StorageError{Op: op, Err: err}
}

// publish fans rec out to every publisher. Failures are logged and counted.
func (s *Service) publish(ctx context.Context, rec *Record) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, rec); err != nil {
			metrics.PublishErrorsTotal.WithLabelValues(p.Name()).Inc()
			s.log(ctx).Warn("failed to publish analysis",
				"publisher", p.Name(),
				"username", rec.Username,
				"error", err,
			)
		}
	}
}

func observe(r authenticity.Result) {
	metrics.AnalysesTotal.WithLabelValues(string(r.Status)).Inc()
	metrics.AnalysisScore.Observe(float64(r.Score))
	for _, f := range r.Flags {
		metrics.AnalysisFlagsTotal.WithLabelValues(string(f)).Inc()
	}
}

// log returns the service logger tagged with the request ID, if any.
func (s *Service) log(ctx context.Context) *slog.Logger {
	if id := logging.RequestID(ctx); id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}
