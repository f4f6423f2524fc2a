package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

const backendSQLite = "sqlite"

// SQLiteStore implements Store on a local SQLite file. It suits a single
// instance that needs the ledger to survive restarts. Timestamps are stored
// as Unix nanoseconds so window boundaries compare exactly.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once

	lookupUserStmt    *sql.Stmt
	upsertUserStmt    *sql.Stmt
	insertUsageStmt   *sql.Stmt
	countAllStmt      *sql.Stmt
	countEndpointStmt *sql.Stmt
	insertStoreStmt   *sql.Stmt
	countStoresStmt   *sql.Stmt
	pruneStmt         *sql.Stmt
}

// NewSQLiteStore opens (or creates) the ledger at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: path}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, fmt.Errorf("prepare sqlite statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL DEFAULT '',
		plan       TEXT NOT NULL DEFAULT 'free',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_events (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		endpoint   TEXT NOT NULL,
		method     TEXT NOT NULL,
		success    INTEGER NOT NULL,
		client_ip  TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_user_endpoint_time ON usage_events(user_id, endpoint, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_events(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_time ON usage_events(created_at);

	CREATE TABLE IF NOT EXISTS stores (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		source_url TEXT NOT NULL,
		name       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stores_user_time ON stores(user_id, created_at);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.lookupUserStmt, `SELECT id, email, plan FROM users WHERE id = ?`},
		{&s.upsertUserStmt, `
			INSERT INTO users (id, email, plan, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				email = excluded.email,
				plan = excluded.plan,
				updated_at = excluded.updated_at`},
		{&s.insertUsageStmt, `
			INSERT INTO usage_events (id, user_id, endpoint, method, success, client_ip, user_agent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.countAllStmt, `SELECT COUNT(*) FROM usage_events WHERE user_id = ? AND created_at >= ?`},
		{&s.countEndpointStmt, `SELECT COUNT(*) FROM usage_events WHERE user_id = ? AND endpoint = ? AND created_at >= ?`},
		{&s.insertStoreStmt, `INSERT INTO stores (id, user_id, source_url, name, created_at) VALUES (?, ?, ?, ?, ?)`},
		{&s.countStoresStmt, `SELECT COUNT(*) FROM stores WHERE user_id = ? AND created_at >= ?`},
		{&s.pruneStmt, `DELETE FROM usage_events WHERE created_at < ?`},
	}
	for _, st := range stmts {
		prepared, err := s.db.Prepare(st.query)
		if err != nil {
			return err
		}
		*st.dst = prepared
	}
	return nil
}

func (s *SQLiteStore) LookupUser(ctx context.Context, userID string) (quota.User, error) {
	var u quota.User
	var plan string
	err := s.lookupUserStmt.QueryRowContext(ctx, userID).Scan(&u.ID, &u.Email, &plan)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.User{}, track(backendSQLite, "lookup_user", apperrors.ErrNotFound)
	}
	if err != nil {
		return quota.User{}, track(backendSQLite, "lookup_user", err)
	}
	u.Plan = quota.Plan(plan)
	return u, track(backendSQLite, "lookup_user", nil)
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, u quota.User) error {
	if err := validateUser(u); err != nil {
		return track(backendSQLite, "upsert_user", err)
	}
	_, err := s.upsertUserStmt.ExecContext(ctx, u.ID, u.Email, string(u.Plan), time.Now().UTC().UnixNano())
	return track(backendSQLite, "upsert_user", err)
}

func (s *SQLiteStore) InsertUsage(ctx context.Context, ev quota.UsageEvent) error {
	if err := validateEvent(ev); err != nil {
		return track(backendSQLite, "insert_usage", err)
	}
	_, err := s.insertUsageStmt.ExecContext(ctx,
		ev.ID, ev.UserID, ev.Endpoint, ev.Method, ev.Success, ev.ClientIP, ev.UserAgent,
		ev.Timestamp.UTC().UnixNano(),
	)
	return track(backendSQLite, "insert_usage", err)
}

func (s *SQLiteStore) CountUsage(ctx context.Context, userID, endpoint string, since time.Time) (int, error) {
	var n int
	var err error
	if endpoint == "" {
		err = s.countAllStmt.QueryRowContext(ctx, userID, since.UTC().UnixNano()).Scan(&n)
	} else {
		err = s.countEndpointStmt.QueryRowContext(ctx, userID, endpoint, since.UTC().UnixNano()).Scan(&n)
	}
	if err != nil {
		return 0, track(backendSQLite, "count_usage", err)
	}
	return n, track(backendSQLite, "count_usage", nil)
}

func (s *SQLiteStore) RecordStore(ctx context.Context, st quota.StoreCreation) error {
	if err := validateStore(st); err != nil {
		return track(backendSQLite, "record_store", err)
	}
	_, err := s.insertStoreStmt.ExecContext(ctx, st.ID, st.UserID, st.SourceURL, st.Name, st.CreatedAt.UTC().UnixNano())
	return track(backendSQLite, "record_store", err)
}

func (s *SQLiteStore) CountStores(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	if err := s.countStoresStmt.QueryRowContext(ctx, userID, since.UTC().UnixNano()).Scan(&n); err != nil {
		return 0, track(backendSQLite, "count_stores", err)
	}
	return n, track(backendSQLite, "count_stores", nil)
}

func (s *SQLiteStore) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pruneStmt.ExecContext(ctx, before.UTC().UnixNano())
	if err != nil {
		return 0, track(backendSQLite, "prune_usage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, track(backendSQLite, "prune_usage", err)
	}
	return n, track(backendSQLite, "prune_usage", nil)
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		for _, st := range []*sql.Stmt{
			s.lookupUserStmt, s.upsertUserStmt, s.insertUsageStmt, s.countAllStmt,
			s.countEndpointStmt, s.insertStoreStmt, s.countStoresStmt, s.pruneStmt,
		} {
			if st != nil {
				st.Close()
			}
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})
	return closeErr
}
