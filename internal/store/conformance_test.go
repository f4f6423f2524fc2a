package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

var base = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func event(id, user, endpoint string, at time.Time) quota.UsageEvent {
	return quota.UsageEvent{
		ID:        id,
		UserID:    user,
		Endpoint:  endpoint,
		Method:    "POST",
		Success:   true,
		Timestamp: at,
	}
}

// runConformance exercises the behaviour every ledger backend shares.
func runConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("lookup unknown user", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LookupUser(ctx, "ghost")
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("upsert last write wins", func(t *testing.T) {
		s := newStore(t)
		if err := s.UpsertUser(ctx, quota.User{ID: "u1", Email: "a@x.io", Plan: quota.PlanFree}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := s.UpsertUser(ctx, quota.User{ID: "u1", Email: "b@x.io", Plan: quota.PlanPremium}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		u, err := s.LookupUser(ctx, "u1")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if u.Email != "b@x.io" || u.Plan != quota.PlanPremium {
			t.Errorf("unexpected user %+v", u)
		}
	})

	t.Run("count usage", func(t *testing.T) {
		s := newStore(t)
		evs := []quota.UsageEvent{
			event("e1", "u1", "/v1/generate-store", base.Add(-2*time.Hour)),
			event("e2", "u1", "/v1/generate-store", base.Add(-30*time.Minute)),
			event("e3", "u1", "/v1/quota", base.Add(-10*time.Minute)),
			event("e4", "u1", "/v1/generate-store", base.Add(-time.Hour)),
			event("e5", "u2", "/v1/generate-store", base.Add(-time.Minute)),
		}
		for _, ev := range evs {
			if err := s.InsertUsage(ctx, ev); err != nil {
				t.Fatalf("insert %s: %v", ev.ID, err)
			}
		}

		tests := []struct {
			user, endpoint string
			since          time.Time
			want           int
		}{
			{"u1", "", base.Add(-time.Hour), 3},
			{"u1", "/v1/generate-store", base.Add(-time.Hour), 2},
			{"u1", "/v1/generate-store", base.Add(-3 * time.Hour), 3},
			{"u1", "/v1/quota", base.Add(-time.Hour), 1},
			{"u1", "", base, 0},
			{"u2", "", base.Add(-time.Hour), 1},
			{"nobody", "", base.Add(-time.Hour), 0},
		}
		for _, tt := range tests {
			got, err := s.CountUsage(ctx, tt.user, tt.endpoint, tt.since)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if got != tt.want {
				t.Errorf("CountUsage(%s, %q, %s) = %d, want %d", tt.user, tt.endpoint, tt.since.Format(time.RFC3339), got, tt.want)
			}
		}
	})

	t.Run("stores", func(t *testing.T) {
		s := newStore(t)
		for i, at := range []time.Time{base.AddDate(0, -1, 0), base.Add(-time.Hour), base} {
			st := quota.StoreCreation{
				ID:        fmt.Sprintf("s%d", i),
				UserID:    "u1",
				SourceURL: "https://example.com",
				Name:      "example",
				CreatedAt: at,
			}
			if err := s.RecordStore(ctx, st); err != nil {
				t.Fatalf("record: %v", err)
			}
		}
		monthStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		n, err := s.CountStores(ctx, "u1", monthStart)
		if err != nil {
			t.Fatalf("count stores: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 stores this month, got %d", n)
		}
	})

	t.Run("prune", func(t *testing.T) {
		s := newStore(t)
		for _, ev := range []quota.UsageEvent{
			event("old1", "u1", "/a", base.Add(-48*time.Hour)),
			event("old2", "u2", "/b", base.Add(-25*time.Hour)),
			event("new1", "u1", "/a", base.Add(-time.Hour)),
		} {
			if err := s.InsertUsage(ctx, ev); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		n, err := s.PruneUsage(ctx, base.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("prune: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 pruned, got %d", n)
		}
		left, _ := s.CountUsage(ctx, "u1", "/a", base.Add(-72*time.Hour))
		if left != 1 {
			t.Errorf("expected 1 remaining for u1, got %d", left)
		}
		left, _ = s.CountUsage(ctx, "u2", "", base.Add(-72*time.Hour))
		if left != 0 {
			t.Errorf("expected nothing left for u2, got %d", left)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		s := newStore(t)
		if err := s.UpsertUser(ctx, quota.User{}); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("upsert: expected ErrInvalidInput, got %v", err)
		}
		if err := s.InsertUsage(ctx, quota.UsageEvent{ID: "x"}); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("insert: expected ErrInvalidInput, got %v", err)
		}
		if err := s.RecordStore(ctx, quota.StoreCreation{UserID: "u"}); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("record: expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("health", func(t *testing.T) {
		s := newStore(t)
		if err := s.Health(ctx); err != nil {
			t.Errorf("health: %v", err)
		}
	})
}
