package kv

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/accountcheck/internal/retry"
	"github.com/mbd888/accountcheck/migrations"
)

// Options selects and configures a backend.
type Options struct {
	Kind           string // empty = inferred from the URLs below
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string
	RedisNamespace string

	ConnectAttempts int
	ConnectDelay    time.Duration
}

// ResolveKind returns the backend Open will use for opts.
func (o Options) ResolveKind() string {
	if o.Kind != "" {
		return o.Kind
	}
	switch {
	case o.DatabaseURL != "":
		return KindPostgres
	case o.RedisURL != "":
		return KindRedis
	case o.SQLitePath != "":
		return KindSQLite
	default:
		return KindMemory
	}
}

// Open builds the configured backend, waiting for network backends to come up.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := opts.ConnectDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	switch kind := opts.ResolveKind(); kind {
	case KindMemory:
		return NewMemoryStore(), nil

	case KindSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = "accountcheck.db"
		}
		return OpenSQLite(ctx, path)

	case KindPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend requires DATABASE_URL")
		}
		db, err := sql.Open("postgres", opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		err = retry.Do(ctx, attempts, delay, func() error {
			if err := db.PingContext(ctx); err != nil {
				logger.Warn("database not ready", "error", err)
				return err
			}
			return nil
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate kv store: %w", err)
		}
		return NewPostgresStore(db), nil

	case KindRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requires REDIS_URL")
		}
		store, err := OpenRedis(opts.RedisURL, opts.RedisNamespace)
		if err != nil {
			return nil, err
		}
		err = retry.Do(ctx, attempts, delay, func() error {
			if err := store.Ping(ctx); err != nil {
				logger.Warn("redis not ready", "error", err)
				return err
			}
			return nil
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
