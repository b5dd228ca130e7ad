package cache

import (
	"context"
	"testing"
	"time"
)

func TestLRUStoreSetAndGet(t *testing.T) {
	s := NewLRUStore(10)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", "v1", time.Minute); err != nil {
		t.Fatalf("unexpected error on Set: %v", err)
	}

	value, hit, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("unexpected error on Get: %v", err)
	}
	if !hit || value != "v1" {
		t.Errorf("expected hit with value v1, got hit=%v value=%q", hit, value)
	}
}

func TestLRUStoreMiss(t *testing.T) {
	s := NewLRUStore(10)
	_, hit, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hit {
		t.Error("expected miss for unset key")
	}
}

func TestLRUStoreExpiry(t *testing.T) {
	s := NewLRUStore(10)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	ctx := context.Background()
	_ = s.Set(ctx, "k1", "v1", time.Second)

	clock = clock.Add(2 * time.Second)
	_, hit, _ := s.Get(ctx, "k1")
	if hit {
		t.Error("expected expired entry to miss")
	}
}

func TestLRUStoreEvictsOldestAtCapacity(t *testing.T) {
	s := NewLRUStore(2)
	ctx := context.Background()

	_ = s.Set(ctx, "a", "1", time.Minute)
	_ = s.Set(ctx, "b", "2", time.Minute)
	_ = s.Set(ctx, "c", "3", time.Minute) // should evict "a", the least recently used

	if _, hit, _ := s.Get(ctx, "a"); hit {
		t.Error("expected oldest entry evicted at capacity")
	}
	if _, hit, _ := s.Get(ctx, "b"); !hit {
		t.Error("expected b to survive eviction")
	}
	if _, hit, _ := s.Get(ctx, "c"); !hit {
		t.Error("expected c to survive eviction")
	}
}

func TestLRUStoreGetRefreshesRecency(t *testing.T) {
	s := NewLRUStore(2)
	ctx := context.Background()

	_ = s.Set(ctx, "a", "1", time.Minute)
	_ = s.Set(ctx, "b", "2", time.Minute)
	_, _, _ = s.Get(ctx, "a") // a becomes most recently used
	_ = s.Set(ctx, "c", "3", time.Minute) // should evict "b" now, not "a"

	if _, hit, _ := s.Get(ctx, "a"); !hit {
		t.Error("expected recently accessed entry to survive eviction")
	}
	if _, hit, _ := s.Get(ctx, "b"); hit {
		t.Error("expected b evicted after a was refreshed")
	}
}

func TestLRUStoreDelete(t *testing.T) {
	s := NewLRUStore(10)
	ctx := context.Background()
	_ = s.Set(ctx, "k1", "v1", time.Minute)
	_ = s.Delete(ctx, "k1")

	if _, hit, _ := s.Get(ctx, "k1"); hit {
		t.Error("expected deleted key to miss")
	}
}

func TestLRUStoreStats(t *testing.T) {
	s := NewLRUStore(10)
	ctx := context.Background()
	_ = s.Set(ctx, "k1", "v1", time.Minute)

	_, _, _ = s.Get(ctx, "k1")      // hit
	_, _, _ = s.Get(ctx, "missing") // miss

	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestLRUStoreSweepRemovesExpired(t *testing.T) {
	s := NewLRUStore(10)
	clock := time.Now()
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	_ = s.Set(ctx, "k1", "v1", time.Second)
	clock = clock.Add(2 * time.Second)
	s.Sweep()

	s.mu.RLock()
	_, exists := s.entries["k1"]
	s.mu.RUnlock()
	if exists {
		t.Error("expected swept entry removed from the index")
	}
}
