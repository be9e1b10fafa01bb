package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hicpool/pool-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Event pages are keyed by a generation counter that every append bumps,
// so stale pages are never served and simply expire.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if err := s.primary.AppendEvents(ctx, events); err != nil {
		return err
	}
	s.rdb.Incr(ctx, eventsGenKey())
	return nil
}

func (s *CachedStore) TruncateEvents(ctx context.Context, afterSeq uint64) (int64, error) {
	n, err := s.primary.TruncateEvents(ctx, afterSeq)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.rdb.Incr(ctx, eventsGenKey())
	}
	return n, nil
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, &snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey()).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

func (s *CachedStore) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	gen, err := s.rdb.Get(ctx, eventsGenKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		// Redis unavailable: serve from primary without caching.
		return s.primary.ListEvents(ctx, f)
	}
	key := eventsPageKey(gen, f)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return events, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheSnapshot(ctx context.Context, snap *model.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, snapshotKey(), data, s.ttl)
}

func snapshotKey() string {
	return "pool:snapshot:latest"
}

func eventsGenKey() string {
	return "pool:events:gen"
}

func eventsPageKey(gen int64, f model.EventFilter) string {
	return fmt.Sprintf("pool:events:%d:%s:%s:%d:%d", gen, f.Category, f.Subject, f.AfterSeq, f.Limit)
}
