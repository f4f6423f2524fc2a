package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

func TestAPIKeyResolver(t *testing.T) {
	ks := NewMemoryKeyStore()
	raw, rec, err := IssueKey(context.Background(), ks, "u1", "ci", "live")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec.UserID != "u1" || rec.Status != KeyActive {
		t.Fatalf("unexpected record %+v", rec)
	}
	res := NewAPIKeyResolver(ks, "")

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-API-Key", raw)
		id, err := res.Resolve(req)
		if err != nil || id.UserID != "u1" {
			t.Fatalf("resolve: %+v %v", id, err)
		}
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		id, err := res.Resolve(req)
		if err != nil || id.UserID != "u1" {
			t.Fatalf("resolve: %+v %v", id, err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		env, kid, _, _ := ParseAPIKey(raw)
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-API-Key", strings.Join([]string{"sf", env, kid, strings.Repeat("0", 32)}, "_"))
		if _, err := res.Resolve(req); !errors.Is(err, apperrors.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-API-Key", "sf_live_000000000000_"+strings.Repeat("a", 32))
		if _, err := res.Resolve(req); !errors.Is(err, apperrors.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-API-Key", "hello")
		if _, err := res.Resolve(req); !errors.Is(err, apperrors.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("revoked", func(t *testing.T) {
		if err := ks.RevokeKey(context.Background(), rec.ID); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-API-Key", raw)
		if _, err := res.Resolve(req); !errors.Is(err, apperrors.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})
}

func TestAPIKeyResolver_NoCredentials(t *testing.T) {
	res := NewAPIKeyResolver(NewMemoryKeyStore(), "X-API-Key")
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	if _, err := res.Resolve(req); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

type failingKeyStore struct{ MemoryKeyStore }

func (*failingKeyStore) LookupKey(ctx context.Context, id string) (KeyRecord, error) {
	return KeyRecord{}, errors.New("connection refused")
}

func TestAPIKeyResolver_StoreOutage(t *testing.T) {
	res := NewAPIKeyResolver(&failingKeyStore{}, "")
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-API-Key", "sf_live_000000000000_"+strings.Repeat("a", 32))
	_, err := res.Resolve(req)
	if !errors.Is(err, apperrors.ErrPersistenceUnavailable) {
		t.Fatalf("expected ErrPersistenceUnavailable, got %v", err)
	}
}

func TestMemoryKeyStore_NotFound(t *testing.T) {
	ks := NewMemoryKeyStore()
	if _, err := ks.LookupKey(context.Background(), "nope"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("lookup: expected ErrNotFound, got %v", err)
	}
	if err := ks.RevokeKey(context.Background(), "nope"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("revoke: expected ErrNotFound, got %v", err)
	}
	if err := ks.CreateKey(context.Background(), KeyRecord{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := ks.CreateKey(context.Background(), KeyRecord{ID: "a"}); err == nil {
		t.Errorf("expected duplicate id error")
	}
}

type mockDB struct {
	execFn     func(ctx context.Context, sql string, args ...any) (int64, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return m.execFn(ctx, sql, args...)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.queryRowFn(ctx, sql, args...)
}

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func TestPostgresKeyStore(t *testing.T) {
	created := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	db := &mockDB{
		execFn: func(ctx context.Context, sql string, args ...any) (int64, error) {
			if strings.Contains(sql, "UPDATE api_keys") {
				if args[0] == "known" {
					return 1, nil
				}
				return 0, nil
			}
			if args[3] != "kid" {
				t.Errorf("expected key_prefix kid, got %v", args[3])
			}
			return 1, nil
		},
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if args[0] != "known" {
				return rowFunc(func(dest ...any) error { return pgx.ErrNoRows })
			}
			return rowFunc(func(dest ...any) error {
				*dest[0].(*string) = "known"
				*dest[1].(*string) = "u1"
				*dest[2].(*string) = "ci"
				*dest[3].(*[]byte) = []byte("hash")
				*dest[4].(*string) = KeyActive
				*dest[5].(*time.Time) = created
				return nil
			})
		},
	}
	ks := NewPostgresKeyStore(db)
	ctx := context.Background()

	if err := ks.CreateKey(ctx, KeyRecord{ID: "kid", UserID: "u1", Hash: []byte("h"), Status: KeyActive}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := ks.LookupKey(ctx, "known")
	if err != nil || rec.UserID != "u1" || !rec.CreatedAt.Equal(created) {
		t.Fatalf("lookup: %+v %v", rec, err)
	}
	if _, err := ks.LookupKey(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := ks.RevokeKey(ctx, "known"); err != nil {
		t.Errorf("revoke: %v", err)
	}
	if err := ks.RevokeKey(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChain(t *testing.T) {
	none := ResolverFunc(func(*http.Request) (*quota.Identity, error) { return nil, ErrNoCredentials })
	bad := ResolverFunc(func(*http.Request) (*quota.Identity, error) {
		return nil, invalid("session token", errors.New("expired"))
	})
	ok := ResolverFunc(func(*http.Request) (*quota.Identity, error) {
		return &quota.Identity{UserID: "u1"}, nil
	})
	req := httptest.NewRequest("GET", "/", nil)

	if id, err := Chain(none, nil, ok).Resolve(req); err != nil || id.UserID != "u1" {
		t.Errorf("expected success from later resolver, got %+v %v", id, err)
	}
	if _, err := Chain(none, none).Resolve(req); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
	_, err := Chain(none, bad).Resolve(req)
	if !errors.Is(err, apperrors.ErrUnauthenticated) || errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected invalid-credential error, got %v", err)
	}
	if _, err := Chain().Resolve(req); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("empty chain: expected ErrNoCredentials, got %v", err)
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if IdentityFrom(ctx) != nil {
		t.Fatalf("expected nil identity")
	}
	ctx = WithIdentity(ctx, &quota.Identity{UserID: "u1"})
	if got := IdentityFrom(ctx); got == nil || got.UserID != "u1" {
		t.Fatalf("unexpected identity %+v", got)
	}
}
