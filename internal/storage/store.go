package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"xalpha/internal/config"
	"xalpha/internal/model"
)

// ErrNotConfigured indicates the storage backend was not initialised.
var ErrNotConfigured = errors.New("storage: backend not configured")

// Store persists signals, the seen ledger and the scan checkpoint.
type Store interface {
	// Exists reports whether a signal row with id is stored.
	Exists(ctx context.Context, id string) (bool, error)
	SaveSignal(ctx context.Context, signal model.Signal) error
	QuerySignals(ctx context.Context, q Query) ([]model.Signal, error)
	Stats(ctx context.Context) (Stats, error)
	Authors(ctx context.Context) ([]AuthorCount, error)

	SetCheckpoint(ctx context.Context, t time.Time) error
	// Checkpoint returns nil when no cycle has completed yet.
	Checkpoint(ctx context.Context) (*time.Time, error)

	MarkSeen(ctx context.Context, ids []string) error
	Seen(ctx context.Context, id string) (bool, error)

	Migrate(ctx context.Context) error
	Close()
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Open builds the backend selected by cfg.Driver and applies migrations when AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		pool, poolErr := NewPool(ctx, cfg)
		if poolErr != nil {
			return nil, poolErr
		}
		st = NewPostgresStore(pool)
	case "sqlite", "":
		st, err = OpenSQLite(cfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if cfg.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}
	return st, nil
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
