package store

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/rajasatyajit/storeforge/config"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

func newTestRedis(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore(t *testing.T) {
	runConformance(t, newTestRedis)
}

func TestNewRedisStoreFromURL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()

	s, err := NewRedisStoreFromURL(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if err := s.Health(context.Background()); err != nil {
		t.Errorf("health: %v", err)
	}
}

func TestNewRedisStoreFromURL_Errors(t *testing.T) {
	if _, err := NewRedisStoreFromURL(context.Background(), config.RedisConfig{URL: "not a url"}); err == nil {
		t.Errorf("expected parse error")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisStoreFromURL(context.Background(), config.RedisConfig{URL: "redis://" + addr}); err == nil {
		t.Errorf("expected ping error for closed server")
	}
}

func TestRedisStore_EndpointKeysAreSeparate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	if err := s.InsertUsage(ctx, event("e1", "u1", "/v1/generate-store", base)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !mr.Exists(usageAllKey("u1")) {
		t.Errorf("expected all-endpoint key")
	}
	if !mr.Exists(usageEndpointKey("u1", "/v1/generate-store")) {
		t.Errorf("expected endpoint key")
	}
	if usageEndpointKey("u1", "/a") == usageEndpointKey("u1", "/b") {
		t.Errorf("endpoint keys collide")
	}
}

func TestRedisStore_SubMicrosecondBoundary(t *testing.T) {
	ctx := context.Background()
	since := base.Add(1500 * time.Nanosecond)
	events := []quota.UsageEvent{
		event("before", "u1", "/v1/generate-store", base.Add(time.Microsecond)),
		event("after", "u1", "/v1/generate-store", base.Add(2*time.Microsecond)),
	}

	for name, newStore := range map[string]func(t *testing.T) Store{
		"redis":  newTestRedis,
		"memory": func(t *testing.T) Store { return NewInMemoryStore() },
	} {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			for _, ev := range events {
				if err := s.InsertUsage(ctx, ev); err != nil {
					t.Fatal(err)
				}
			}
			for _, endpoint := range []string{"", "/v1/generate-store"} {
				n, err := s.CountUsage(ctx, "u1", endpoint, since)
				if err != nil {
					t.Fatal(err)
				}
				if n != 1 {
					t.Errorf("endpoint %q: expected only the event after the boundary, got %d", endpoint, n)
				}
			}

			removed, err := s.PruneUsage(ctx, since)
			if err != nil {
				t.Fatal(err)
			}
			if removed != 1 {
				t.Errorf("expected prune to remove the event before the boundary, removed %d", removed)
			}
			if n, _ := s.CountUsage(ctx, "u1", "", base); n != 1 {
				t.Errorf("expected one event left, got %d", n)
			}
		})
	}
}
