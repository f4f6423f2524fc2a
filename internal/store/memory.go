package store

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
)

const backendMemory = "memory"

// InMemoryStore implements Store in process memory. Single instance only.
type InMemoryStore struct {
	mu     sync.RWMutex
	users  map[string]quota.User
	events map[string][]quota.UsageEvent
	stores map[string][]quota.StoreCreation
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:  make(map[string]quota.User),
		events: make(map[string][]quota.UsageEvent),
		stores: make(map[string][]quota.StoreCreation),
	}
}

func (s *InMemoryStore) LookupUser(ctx context.Context, userID string) (quota.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return quota.User{}, track(backendMemory, "lookup_user", apperrors.ErrNotFound)
	}
	return u, track(backendMemory, "lookup_user", nil)
}

func (s *InMemoryStore) UpsertUser(ctx context.Context, u quota.User) error {
	if err := validateUser(u); err != nil {
		return track(backendMemory, "upsert_user", err)
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return track(backendMemory, "upsert_user", nil)
}

func (s *InMemoryStore) InsertUsage(ctx context.Context, ev quota.UsageEvent) error {
	if err := validateEvent(ev); err != nil {
		return track(backendMemory, "insert_usage", err)
	}
	if err := ctx.Err(); err != nil {
		return track(backendMemory, "insert_usage", err)
	}
	ev.Timestamp = ev.Timestamp.UTC()
	s.mu.Lock()
	s.events[ev.UserID] = append(s.events[ev.UserID], ev)
	s.mu.Unlock()
	return track(backendMemory, "insert_usage", nil)
}

func (s *InMemoryStore) CountUsage(ctx context.Context, userID, endpoint string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ev := range s.events[userID] {
		if (endpoint == "" || ev.Endpoint == endpoint) && !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n, track(backendMemory, "count_usage", nil)
}

func (s *InMemoryStore) RecordStore(ctx context.Context, st quota.StoreCreation) error {
	if err := validateStore(st); err != nil {
		return track(backendMemory, "record_store", err)
	}
	st.CreatedAt = st.CreatedAt.UTC()
	s.mu.Lock()
	s.stores[st.UserID] = append(s.stores[st.UserID], st)
	s.mu.Unlock()
	return track(backendMemory, "record_store", nil)
}

func (s *InMemoryStore) CountStores(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, st := range s.stores[userID] {
		if !st.CreatedAt.Before(since) {
			n++
		}
	}
	return n, track(backendMemory, "count_stores", nil)
}

func (s *InMemoryStore) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for userID, evs := range s.events {
		kept := evs[:0]
		for _, ev := range evs {
			if ev.Timestamp.Before(before) {
				removed++
				continue
			}
			kept = append(kept, ev)
		}
		if len(kept) == 0 {
			delete(s.events, userID)
		} else {
			s.events[userID] = kept
		}
	}
	return removed, track(backendMemory, "prune_usage", nil)
}

// Health always returns nil for in-memory store
func (s *InMemoryStore) Health(ctx context.Context) error {
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
