package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/policygate/gateway/internal/config"
)

// RedisStore is the out-of-process network-cache variant of the Cache
// Layer's Store interface.
type RedisStore struct {
	client *redis.Client

	hits   uint64
	misses uint64
}

// NewRedisStore connects to Redis per cfg and verifies reachability with a
// bounded Ping before returning.
func NewRedisStore(cfg config.CacheConfig) (*RedisStore, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	if cfg.RedisPassword != "" {
		opt.Password = cfg.RedisPassword
	}
	opt.DB = cfg.RedisDB
	opt.PoolSize = cfg.PoolSize
	opt.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.WithFields(log.Fields{
		"redis_url": cfg.RedisURL,
		"db":        cfg.RedisDB,
		"pool_size": cfg.PoolSize,
	}).Info("cache: redis store initialized")

	return &RedisStore{client: client}, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Raw exposes the underlying go-redis client for callers that need
// primitives the Store interface doesn't cover (pub/sub, scan).
func (s *RedisStore) Raw() *redis.Client {
	return s.client
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddUint64(&s.misses, 1)
		return "", false, nil
	}
	if err != nil {
		// A network-cache error is not a miss: callers decide fallback,
		// per spec.md §4.1 ("operations fail without crashing").
		return "", false, err
	}
	atomic.AddUint64(&s.hits, 1)
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadUint64(&s.hits),
		Misses: atomic.LoadUint64(&s.misses),
	}
}

// Scan returns every key matching pattern, paging through Redis's cursor.
func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		var page []string
		var err error
		page, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, page...)
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
