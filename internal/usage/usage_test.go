package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rajasatyajit/storeforge/config"
	"github.com/rajasatyajit/storeforge/internal/quota"
	"github.com/rajasatyajit/storeforge/internal/store"
)

var epoch = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *store.InMemoryStore, ages ...time.Duration) {
	t.Helper()
	for i, age := range ages {
		ev := quota.UsageEvent{
			ID:        string(rune('a' + i)),
			UserID:    "u1",
			Endpoint:  "/v1/generate-store",
			Method:    "POST",
			Timestamp: epoch.Add(-age),
		}
		if err := s.InsertUsage(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPruner_DeletesOldEvents(t *testing.T) {
	s := store.NewInMemoryStore()
	seed(t, s, time.Hour, 89*24*time.Hour, 91*24*time.Hour, 200*24*time.Hour)

	p := NewPruner(s, config.RetentionConfig{MaxAge: 90 * 24 * time.Hour}).
		WithClock(clockwork.NewFakeClockAt(epoch))

	if want := epoch.Add(-90 * 24 * time.Hour); !p.Cutoff().Equal(want) {
		t.Fatalf("cutoff = %s, want %s", p.Cutoff(), want)
	}
	n, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
	left, _ := s.CountUsage(context.Background(), "u1", "", epoch.Add(-365*24*time.Hour))
	if left != 2 {
		t.Errorf("expected 2 events left, got %d", left)
	}
}

func TestPruner_ZeroRetentionKeepsEverything(t *testing.T) {
	s := store.NewInMemoryStore()
	seed(t, s, 1000*24*time.Hour)

	n, err := NewPruner(s, config.RetentionConfig{}).Prune(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("prune = %d, %v", n, err)
	}
}

type failingLedger struct{}

func (failingLedger) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

func TestPruner_PropagatesError(t *testing.T) {
	_, err := NewPruner(failingLedger{}, config.RetentionConfig{MaxAge: time.Hour}).Prune(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		maxAge      time.Duration
		wantRunning bool
		wantError   bool
	}{
		{"valid daily schedule", "0 3 * * *", 24 * time.Hour, true, false},
		{"valid hourly schedule", "0 * * * *", 24 * time.Hour, true, false},
		{"empty schedule", "", 24 * time.Hour, false, false},
		{"retention disabled", "0 3 * * *", 0, false, false},
		{"invalid schedule", "invalid cron", 24 * time.Hour, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPruner(store.NewInMemoryStore(), config.RetentionConfig{MaxAge: tt.maxAge, Schedule: tt.schedule})
			s := NewScheduler(p)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Errorf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning {
				next := s.NextRun()
				if next == nil || !next.After(time.Now()) {
					t.Errorf("NextRun() = %v, want a future time", next)
				}
			} else if s.NextRun() != nil {
				t.Errorf("idle scheduler should have no next run")
			}
			s.Stop()
			if s.IsRunning() {
				t.Errorf("scheduler still running after Stop")
			}
		})
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	p := NewPruner(store.NewInMemoryStore(), config.RetentionConfig{MaxAge: time.Hour, Schedule: "* * * * *"})
	s := NewScheduler(p)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Fatalf("scheduler did not stop after cancel")
	}
}
