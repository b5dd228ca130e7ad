// Package cache implements the Cache Layer: a short-TTL key/value store for
// contracts, guardrail configs, and hot validation results. Two backing
// variants are provided — an in-process LRU+TTL store and an out-of-process
// Redis store — behind the same Store interface.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the Cache Layer's contract. Get reports a hit/miss distinction
// separately from error so callers never confuse a miss with a failure. Set
// takes an explicit TTL; backends decide eviction beyond that.
type Store interface {
	Get(ctx context.Context, key string) (value string, hit bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Stats() Stats
}

// Stats reports cache hit/miss counters for the health and metrics
// surfaces.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns hits / (hits+misses), or 0 when there have been no reads.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// GetJSON is a typed convenience wrapper over Get that unmarshals a JSON
// cache entry into dest. Returns hit=false and no error on a cache miss.
func GetJSON(ctx context.Context, s Store, key string, dest interface{}) (hit bool, err error) {
	val, hit, err := s.Get(ctx, key)
	if err != nil || !hit {
		return hit, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return true, err
	}
	return true, nil
}

// SetJSON is a typed convenience wrapper over Set that marshals value to
// JSON before storing it.
func SetJSON(ctx context.Context, s Store, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(data), ttl)
}
