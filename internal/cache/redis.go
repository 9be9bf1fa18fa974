package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/logging"
)

const opTimeout = 100 * time.Millisecond

// RedisStore is a Redis-backed cache store implementing Store. Entries are
// shared by every edge instance using the same prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn("Redis cache get failed, treating as miss", zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (s *RedisStore) Set(ctx context.Context, key string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		logging.Warn("Redis cache set failed", zap.Error(err))
	}
}

func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) {
	s.scanAndDelete(ctx, s.prefix+prefix)
}

func (s *RedisStore) Purge(ctx context.Context) {
	s.scanAndDelete(ctx, s.prefix)
}

func (s *RedisStore) scanAndDelete(ctx context.Context, pattern string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern+"*", 100).Result()
		if err != nil {
			logging.Warn("Redis cache scan failed", zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				logging.Warn("Redis cache bulk delete failed", zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

func (s *RedisStore) Stats() StoreStats {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var count int
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			logging.Warn("Redis cache stats scan failed", zap.Error(err))
			return StoreStats{}
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return StoreStats{Size: count}
}
