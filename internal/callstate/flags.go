package callstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFlagStore persists minimized flags under callui:minimized:<role>:<userID>.
// Keys expire after a day; a stale flag after that is indistinguishable from
// the default.
type RedisFlagStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisFlagStore(rdb *redis.Client) *RedisFlagStore {
	return &RedisFlagStore{rdb: rdb, ttl: 24 * time.Hour}
}

func flagKey(role, userID string) string {
	return fmt.Sprintf("callui:minimized:%s:%s", role, userID)
}

func (s *RedisFlagStore) SetMinimized(ctx context.Context, role, userID string, minimized bool) error {
	if !minimized {
		// Absent key means not minimized; no need to store the default.
		return s.Clear(ctx, role, userID)
	}
	return s.rdb.Set(ctx, flagKey(role, userID), "1", s.ttl).Err()
}

func (s *RedisFlagStore) Minimized(ctx context.Context, role, userID string) (bool, error) {
	v, err := s.rdb.Get(ctx, flagKey(role, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return v == "1", nil
}

func (s *RedisFlagStore) Clear(ctx context.Context, role, userID string) error {
	return s.rdb.Del(ctx, flagKey(role, userID)).Err()
}

// MemoryFlagStore backs tests and local development.
type MemoryFlagStore struct {
	mu    sync.Mutex
	flags map[string]bool
}

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{flags: make(map[string]bool)}
}

func (s *MemoryFlagStore) SetMinimized(_ context.Context, role, userID string, minimized bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if minimized {
		s.flags[flagKey(role, userID)] = true
	} else {
		delete(s.flags, flagKey(role, userID))
	}
	return nil
}

func (s *MemoryFlagStore) Minimized(_ context.Context, role, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[flagKey(role, userID)], nil
}

func (s *MemoryFlagStore) Clear(_ context.Context, role, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, flagKey(role, userID))
	return nil
}
