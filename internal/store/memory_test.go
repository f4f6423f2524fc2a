package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rajasatyajit/storeforge/internal/quota"
)

func TestInMemoryStore(t *testing.T) {
	runConformance(t, func(t *testing.T) Store { return NewInMemoryStore() })
}

func TestInMemoryStore_ConcurrentInserts(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := event(fmt.Sprintf("e%d", i), "u1", "/x", base)
			if err := s.InsertUsage(ctx, ev); err != nil {
				t.Errorf("insert: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, err := s.CountUsage(ctx, "u1", "", base)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 50 {
		t.Errorf("expected 50 events, got %d", n)
	}
}

func TestInMemoryStore_InsertHonoursCancelledContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.InsertUsage(ctx, event("e1", "u1", "/x", base)); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if n, _ := s.CountUsage(context.Background(), "u1", "", base.Add(-time.Hour)); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestInMemoryStore_NormalizesToUTC(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	ist := time.FixedZone("IST", 5*3600+1800)
	if err := s.InsertUsage(ctx, event("e1", "u1", "/x", base.In(ist))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.RecordStore(ctx, quota.StoreCreation{ID: "s1", UserID: "u1", CreatedAt: base.In(ist)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if n, _ := s.CountUsage(ctx, "u1", "/x", base); n != 1 {
		t.Errorf("expected event at boundary to count, got %d", n)
	}
	if n, _ := s.CountStores(ctx, "u1", base); n != 1 {
		t.Errorf("expected store at boundary to count, got %d", n)
	}
}
