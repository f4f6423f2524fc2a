package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

const (
	KeyActive  = "active"
	KeyRevoked = "revoked"
)

// KeyRecord is a stored API key. ID is the public part of the raw key.
type KeyRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Label     string    `json:"label"`
	Hash      []byte    `json:"-"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyStore persists API keys. Lookups and revocations of unknown ids
// return errors.ErrNotFound.
type KeyStore interface {
	CreateKey(ctx context.Context, rec KeyRecord) error
	LookupKey(ctx context.Context, id string) (KeyRecord, error)
	RevokeKey(ctx context.Context, id string) error
}

// IssueKey generates a key for userID, stores its hash and returns the raw
// key. The raw key is never stored.
func IssueKey(ctx context.Context, ks KeyStore, userID, label, env string) (string, KeyRecord, error) {
	id, raw, hash, err := GenerateAPIKey(env)
	if err != nil {
		return "", KeyRecord{}, err
	}
	rec := KeyRecord{
		ID:        id,
		UserID:    userID,
		Label:     label,
		Hash:      hash,
		Status:    KeyActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := ks.CreateKey(ctx, rec); err != nil {
		return "", KeyRecord{}, err
	}
	return raw, rec, nil
}

// MemoryKeyStore keeps keys in process memory.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]KeyRecord
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]KeyRecord)}
}

func (m *MemoryKeyStore) CreateKey(ctx context.Context, rec KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[rec.ID]; exists {
		return errors.New("api key id already exists")
	}
	m.keys[rec.ID] = rec
	return nil
}

func (m *MemoryKeyStore) LookupKey(ctx context.Context, id string) (KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.keys[id]
	if !ok {
		return KeyRecord{}, apperrors.ErrNotFound
	}
	return rec, nil
}

func (m *MemoryKeyStore) RevokeKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.keys[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	rec.Status = KeyRevoked
	m.keys[id] = rec
	return nil
}

// Database is the subset of the pgx wrapper the key store needs.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresKeyStore keeps keys in the api_keys table.
type PostgresKeyStore struct {
	db Database
}

func NewPostgresKeyStore(db Database) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

func (p *PostgresKeyStore) CreateKey(ctx context.Context, rec KeyRecord) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, label, key_prefix, key_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), rec.UserID, rec.Label, rec.ID, rec.Hash, rec.Status, rec.CreatedAt.UTC())
	return err
}

func (p *PostgresKeyStore) LookupKey(ctx context.Context, id string) (KeyRecord, error) {
	var rec KeyRecord
	err := p.db.QueryRow(ctx, `
		SELECT key_prefix, user_id, label, key_hash, status, created_at
		FROM api_keys WHERE key_prefix = $1
	`, id).Scan(&rec.ID, &rec.UserID, &rec.Label, &rec.Hash, &rec.Status, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return KeyRecord{}, apperrors.ErrNotFound
	}
	if err != nil {
		return KeyRecord{}, err
	}
	return rec, nil
}

func (p *PostgresKeyStore) RevokeKey(ctx context.Context, id string) error {
	n, err := p.db.Exec(ctx, `UPDATE api_keys SET status = $2 WHERE key_prefix = $1`, id, KeyRevoked)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// APIKeyResolver authenticates raw API keys from the configured header or
// an Authorization bearer value carrying the sf_ prefix.
type APIKeyResolver struct {
	keys   KeyStore
	header string
}

func NewAPIKeyResolver(keys KeyStore, header string) *APIKeyResolver {
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKeyResolver{keys: keys, header: header}
}

func (a *APIKeyResolver) Resolve(r *http.Request) (*quota.Identity, error) {
	raw := r.Header.Get(a.header)
	if raw == "" {
		if b := bearerToken(r); isAPIKey(b) {
			raw = b
		}
	}
	if raw == "" {
		return nil, ErrNoCredentials
	}

	_, id, secret, ok := ParseAPIKey(raw)
	if !ok {
		return nil, invalid("api key", errors.New("malformed"))
	}
	rec, err := a.keys.LookupKey(r.Context(), id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, invalid("api key", errors.New("unknown key"))
	}
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}
	if rec.Status != KeyActive {
		return nil, invalid("api key", errors.New("revoked"))
	}
	if err := bcrypt.CompareHashAndPassword(rec.Hash, []byte(secret)); err != nil {
		return nil, invalid("api key", errors.New("secret mismatch"))
	}
	return &quota.Identity{UserID: rec.UserID}, nil
}
