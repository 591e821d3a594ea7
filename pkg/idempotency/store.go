package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers command keys in Redis for a fixed window so a double submit
// from two staff screens reaches the backend once.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(rdb *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "floor"
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *Store) Key(parts ...string) string {
	return s.prefix + ":cmd:" + strings.Join(parts, ":")
}

// Seen claims key and reports whether it was already claimed.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.Key(key), "1", s.ttl).Result()
	if err != nil {
		return false, err
	}

	return !ok, nil
}

// Release drops a claim so the command can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.Key(key)).Err()
}
