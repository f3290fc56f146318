package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedemptionStore records capability token ids so each token opens a file once.
type RedemptionStore interface {
	// Redeem marks tokenID as used and reports whether this was its first use.
	Redeem(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
}

// MemoryRedemptionStore keeps redeemed token ids in process memory.
type MemoryRedemptionStore struct {
	mu      sync.Mutex
	used    map[string]time.Time
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

// NewMemoryRedemptionStore creates an empty store.
func NewMemoryRedemptionStore() *MemoryRedemptionStore {
	return &MemoryRedemptionStore{
		used:    make(map[string]time.Time),
		now:     time.Now,
		gcEvery: time.Minute,
	}
}

func (s *MemoryRedemptionStore) Redeem(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastGC) >= s.gcEvery {
		for id, expires := range s.used {
			if now.After(expires) {
				delete(s.used, id)
			}
		}
		s.lastGC = now
	}

	if expires, ok := s.used[tokenID]; ok && now.Before(expires) {
		return false, nil
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	s.used[tokenID] = now.Add(ttl)
	return true, nil
}

// RedisRedemptionStore shares redeemed token ids across instances.
type RedisRedemptionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRedemptionStore creates a store writing keys under prefix.
func NewRedisRedemptionStore(client redis.UniversalClient, prefix string) *RedisRedemptionStore {
	if prefix == "" {
		prefix = "lms:material-token:"
	}
	return &RedisRedemptionStore{client: client, prefix: prefix}
}

func (s *RedisRedemptionStore) Redeem(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.SetNX(ctx, s.prefix+tokenID, 1, ttl).Result()
}
