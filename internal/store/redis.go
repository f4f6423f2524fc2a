package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/rajasatyajit/storeforge/config"
	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
	"github.com/rajasatyajit/storeforge/internal/quota"
	"github.com/rajasatyajit/storeforge/pkg/utils"
)

const backendRedis = "redis"

// Key layout:
//
//	sf:user:{id}                   hash with email and plan
//	sf:usage:all:{uid}             zset of every event, scored by UnixMicro
//	sf:usage:ep:{hash}:{uid}       zset of events for one endpoint
//	sf:stores:{uid}                zset of store creations
const (
	userPrefix     = "sf:user:"
	usageAllPrefix = "sf:usage:all:"
	usageEPPrefix  = "sf:usage:ep:"
	storesPrefix   = "sf:stores:"
)

// RedisStore keeps the ledger in sorted sets so window counts are a single
// ZCOUNT. Shared by every replica pointing at the same Redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL dials cfg.URL and pings it before returning.
func NewRedisStoreFromURL(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client), nil
}

func usageAllKey(userID string) string { return usageAllPrefix + userID }

func usageEndpointKey(userID, endpoint string) string {
	return usageEPPrefix + utils.HashString(endpoint) + ":" + userID
}

// boundScore rounds a window boundary up to the next microsecond. Members are
// scored by truncated microseconds, so an event at or after the boundary
// still scores >= the bound and one before it never does.
func boundScore(t time.Time) string {
	us := t.UTC().UnixMicro()
	if t.Sub(time.UnixMicro(us)) > 0 {
		us++
	}
	return strconv.FormatInt(us, 10)
}

func (s *RedisStore) LookupUser(ctx context.Context, userID string) (quota.User, error) {
	fields, err := s.client.HGetAll(ctx, userPrefix+userID).Result()
	if err != nil {
		return quota.User{}, track(backendRedis, "lookup_user", err)
	}
	if len(fields) == 0 {
		return quota.User{}, track(backendRedis, "lookup_user", apperrors.ErrNotFound)
	}
	u := quota.User{ID: userID, Email: fields["email"], Plan: quota.Plan(fields["plan"])}
	return u, track(backendRedis, "lookup_user", nil)
}

func (s *RedisStore) UpsertUser(ctx context.Context, u quota.User) error {
	if err := validateUser(u); err != nil {
		return track(backendRedis, "upsert_user", err)
	}
	err := s.client.HSet(ctx, userPrefix+u.ID, "email", u.Email, "plan", string(u.Plan)).Err()
	return track(backendRedis, "upsert_user", err)
}

func (s *RedisStore) InsertUsage(ctx context.Context, ev quota.UsageEvent) error {
	if err := validateEvent(ev); err != nil {
		return track(backendRedis, "insert_usage", err)
	}
	member, err := json.Marshal(ev)
	if err != nil {
		return track(backendRedis, "insert_usage", err)
	}
	z := redis.Z{Score: float64(ev.Timestamp.UTC().UnixMicro()), Member: member}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, usageAllKey(ev.UserID), z)
	pipe.ZAdd(ctx, usageEndpointKey(ev.UserID, ev.Endpoint), z)
	_, err = pipe.Exec(ctx)
	return track(backendRedis, "insert_usage", err)
}

func (s *RedisStore) CountUsage(ctx context.Context, userID, endpoint string, since time.Time) (int, error) {
	key := usageAllKey(userID)
	if endpoint != "" {
		key = usageEndpointKey(userID, endpoint)
	}
	n, err := s.client.ZCount(ctx, key, boundScore(since), "+inf").Result()
	if err != nil {
		return 0, track(backendRedis, "count_usage", err)
	}
	return int(n), track(backendRedis, "count_usage", nil)
}

func (s *RedisStore) RecordStore(ctx context.Context, st quota.StoreCreation) error {
	if err := validateStore(st); err != nil {
		return track(backendRedis, "record_store", err)
	}
	member, err := json.Marshal(st)
	if err != nil {
		return track(backendRedis, "record_store", err)
	}
	err = s.client.ZAdd(ctx, storesPrefix+st.UserID, redis.Z{
		Score:  float64(st.CreatedAt.UTC().UnixMicro()),
		Member: member,
	}).Err()
	return track(backendRedis, "record_store", err)
}

func (s *RedisStore) CountStores(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, storesPrefix+userID, boundScore(since), "+inf").Result()
	if err != nil {
		return 0, track(backendRedis, "count_stores", err)
	}
	return int(n), track(backendRedis, "count_stores", nil)
}

// PruneUsage trims every usage set. Only the all-endpoint sets contribute to
// the returned count since each event lives in two sets.
func (s *RedisStore) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	max := "(" + boundScore(before)

	var removed int64
	iter := s.client.Scan(ctx, 0, usageAllPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", max).Result()
		if err != nil {
			return removed, track(backendRedis, "prune_usage", err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, track(backendRedis, "prune_usage", err)
	}

	iter = s.client.Scan(ctx, 0, usageEPPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", max).Err(); err != nil {
			return removed, track(backendRedis, "prune_usage", err)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, track(backendRedis, "prune_usage", err)
	}
	return removed, track(backendRedis, "prune_usage", nil)
}

func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
