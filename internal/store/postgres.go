package store

import (
	"context"
	"errors"
	"time"

	pgx "github.com/jackc/pgx/v5"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

const backendPostgres = "postgres"

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db Database
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db Database) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LookupUser(ctx context.Context, userID string) (quota.User, error) {
	var u quota.User
	var plan string
	err := s.db.QueryRow(ctx, `SELECT id, email, plan FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Email, &plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return quota.User{}, track(backendPostgres, "lookup_user", apperrors.ErrNotFound)
	}
	if err != nil {
		return quota.User{}, track(backendPostgres, "lookup_user", err)
	}
	u.Plan = quota.Plan(plan)
	return u, track(backendPostgres, "lookup_user", nil)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u quota.User) error {
	if err := validateUser(u); err != nil {
		return track(backendPostgres, "upsert_user", err)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, plan)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			plan = EXCLUDED.plan,
			updated_at = NOW()
	`, u.ID, u.Email, string(u.Plan))
	return track(backendPostgres, "upsert_user", err)
}

func (s *PostgresStore) InsertUsage(ctx context.Context, ev quota.UsageEvent) error {
	if err := validateEvent(ev); err != nil {
		return track(backendPostgres, "insert_usage", err)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_events (id, user_id, endpoint, method, success, client_ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.UserID, ev.Endpoint, ev.Method, ev.Success, ev.ClientIP, ev.UserAgent, ev.Timestamp.UTC())
	return track(backendPostgres, "insert_usage", err)
}

func (s *PostgresStore) CountUsage(ctx context.Context, userID, endpoint string, since time.Time) (int, error) {
	var n int
	var err error
	if endpoint == "" {
		err = s.db.QueryRow(ctx, `
			SELECT COUNT(*) FROM usage_events
			WHERE user_id = $1 AND created_at >= $2
		`, userID, since.UTC()).Scan(&n)
	} else {
		err = s.db.QueryRow(ctx, `
			SELECT COUNT(*) FROM usage_events
			WHERE user_id = $1 AND endpoint = $2 AND created_at >= $3
		`, userID, endpoint, since.UTC()).Scan(&n)
	}
	if err != nil {
		return 0, track(backendPostgres, "count_usage", err)
	}
	return n, track(backendPostgres, "count_usage", nil)
}

func (s *PostgresStore) RecordStore(ctx context.Context, st quota.StoreCreation) error {
	if err := validateStore(st); err != nil {
		return track(backendPostgres, "record_store", err)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO stores (id, user_id, source_url, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, st.ID, st.UserID, st.SourceURL, st.Name, st.CreatedAt.UTC())
	return track(backendPostgres, "record_store", err)
}

func (s *PostgresStore) CountStores(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM stores
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, track(backendPostgres, "count_stores", err)
	}
	return n, track(backendPostgres, "count_stores", nil)
}

func (s *PostgresStore) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.db.Exec(ctx, `DELETE FROM usage_events WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, track(backendPostgres, "prune_usage", err)
	}
	return n, track(backendPostgres, "prune_usage", nil)
}

// Health checks the database connection
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
