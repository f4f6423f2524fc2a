package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v5"

	"github.com/rajasatyajit/storeforge/config"
	"github.com/rajasatyajit/storeforge/internal/database"
	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/metrics"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

// Store is the usage ledger: everything the limiter reads plus the writes
// the rest of the service needs.
type Store interface {
	quota.UsageStore
	UpsertUser(ctx context.Context, u quota.User) error
	RecordStore(ctx context.Context, s quota.StoreCreation) error
	// PruneUsage deletes usage events older than before and reports how many went.
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// Database interface for dependency injection
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Health(ctx context.Context) error
	IsConfigured() bool
}

// Open builds the ledger selected by cfg. db may be nil unless the
// postgres backend is selected.
func Open(ctx context.Context, cfg *config.Config, db *database.DB) (Store, error) {
	switch backend := cfg.LedgerBackend(); backend {
	case config.LedgerMemory:
		return NewInMemoryStore(), nil
	case config.LedgerPostgres:
		if db == nil || !db.IsConfigured() {
			return nil, fmt.Errorf("postgres ledger: %w", database.ErrNotConfigured)
		}
		return NewPostgresStore(db), nil
	case config.LedgerSQLite:
		return NewSQLiteStore(cfg.Ledger.SQLitePath)
	case config.LedgerRedis:
		return NewRedisStoreFromURL(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

// track records the outcome of a ledger operation and wraps failures.
func track(backend, op string, err error) error {
	switch {
	case err == nil:
		metrics.RecordLedgerOp(backend, op, "success")
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		metrics.RecordLedgerOp(backend, op, "not_found")
	default:
		metrics.RecordLedgerOp(backend, op, "error")
	}
	return apperrors.StoreError{Operation: op, Err: err}
}

func validateUser(u quota.User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", apperrors.ErrInvalidInput)
	}
	return nil
}

func validateEvent(ev quota.UsageEvent) error {
	if ev.ID == "" || ev.UserID == "" {
		return fmt.Errorf("%w: usage event needs id and user id", apperrors.ErrInvalidInput)
	}
	return nil
}

func validateStore(s quota.StoreCreation) error {
	if s.ID == "" || s.UserID == "" {
		return fmt.Errorf("%w: store needs id and user id", apperrors.ErrInvalidInput)
	}
	return nil
}
