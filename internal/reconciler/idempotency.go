package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore deduplicates webhook deliveries. Seen reports whether a key
// was already recorded; Mark records it. Callers must only Mark after the
// delivery's effects are durably committed, otherwise a failed delivery
// would shadow its own redelivery for the whole TTL.
type SeenStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type redisSeenStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSeenStore builds a redis-backed SeenStore. The store is a fast
// path only: reconciliation stays correct without it because transitions
// are idempotent, so callers treat errors as "not seen".
func NewRedisSeenStore(rdb *redis.Client, ttl time.Duration) SeenStore {
	return &redisSeenStore{rdb: rdb, ttl: ttl}
}

func (s *redisSeenStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, "webhook:"+key).Result()
	if err != nil {
		return false, fmt.Errorf("seen store: %w", err)
	}
	return n > 0, nil
}

func (s *redisSeenStore) Mark(ctx context.Context, key string) error {
	if err := s.rdb.Set(ctx, "webhook:"+key, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("seen store: %w", err)
	}
	return nil
}
